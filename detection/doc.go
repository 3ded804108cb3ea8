// Package detection describes the external collaborators that feed the
// inventory pipeline: the frame source, the object detector and the
// per-frame detection results they produce. The detector itself lives
// outside this module; JSONLinesSource reads results an external detector
// process has already produced.
package detection
