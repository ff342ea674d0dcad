// Package history persists dispatch outcomes.
//
// It currently supports:
//   - Append-only JSONL files (dependency-free)
//   - SQLite (WAL, bounded retention)
//
// The scheduler treats the store as a best-effort sink: a write failure is
// logged and never blocks or fails a dispatch.
package history
