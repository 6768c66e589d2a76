// Package sessionctx holds the mutable per-session context document.
//
// Invariants:
// - The document is always a JSON object; it starts empty and is never replaced.
// - Merge applies all top-level keys of a patch as one atomic update.
// - Readers observe either the whole previous or the whole merged document.
//
// Usage:
//
//	sc := sessionctx.New()
//	_ = sc.SetToolRestricted("transfer_call", true)
//	restricted := sc.ToolRestricted("transfer_call")
//	_ = restricted
package sessionctx
