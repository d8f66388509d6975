// Package storage provides the two durable artefacts of
// a minidote replica: the wrap-around, segmented
// write-ahead log of update batches and the single
// overwriting snapshot record. Crash recovery loads the
// snapshot and replays every log record with a higher
// sequence.
package storage
