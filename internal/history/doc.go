// Package history persists the transfer state of every source file vidrelay
// has uploaded.
//
// A History is loaded once per process, mutated in memory while a cycle runs,
// and rewritten wholesale through a Backend after each state change. The JSON
// backend keeps the upload_history.json layout used by earlier agents so old
// files load unchanged; the SQLite backend stores the same two maps as tables.
package history
