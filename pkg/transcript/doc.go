// Package transcript archives session turns as JSONL files, one file per
// session, plus an optional JSON snapshot of the session context.
//
// Invariants:
// - Session ids are validated and path-safe.
// - Writes for the same session are serialized.
// - Save replaces a transcript atomically; Append adds one line.
// - Corrupt lines are skipped on load, never fatal.
//
// Usage:
//
//	store, _ := transcript.NewStore("/var/lib/callcore/sessions", logger)
//	_ = store.Save(ctx, ledger.SessionID(), ledger.Sorted())
//	archived, _ := store.Load(ctx, ledger.SessionID())
//	_ = archived
package transcript
