// Package pipeline runs one inventory stream: each detection frame is
// summarized into a count record, persisted, joined with the configured
// minimums and handed to an alert sink together with the items that are
// below their minimum.
//
// A Driver processes frames strictly one at a time. Persistence is the
// durability boundary: a failure before the record is committed aborts the
// frame, a failure after it is reported as a *StageError while the committed
// record is kept and returned.
package pipeline
