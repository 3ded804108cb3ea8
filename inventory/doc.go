// Package inventory holds the detection-to-inventory domain model and the
// pure parts of the pipeline:
//   - Vocabulary, Record and ThresholdTable
//   - Summarize: per-frame labels into a zero-filled count record
//   - Join: latest record against the threshold table
//   - Deficient: ordered names of items below their minimum
//
// Nothing in this package touches storage; see package store for that.
package inventory
