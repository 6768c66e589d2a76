// Package governance runs a periodic background review of a session. Each pass
// asks the completion endpoint to rate the conversation so far and merges the
// result into the session context under "governance".
//
// Invariants:
// - At most one schedule per Loop; Start on a running loop returns ErrAlreadyRunning.
// - Passes never overlap; a tick that finds the previous pass running is skipped.
// - A failed pass leaves the session context untouched.
// - A pass writes governance state with a single session context merge.
//
// Usage:
//
//	loop := governance.New(governance.Config{
//		Ledger:    ledger,
//		Session:   sessionCtx,
//		Resolver:  resolver,
//		Completer: completer,
//		Logger:    logger,
//	})
//	_ = loop.Start(30 * time.Second)
//	defer loop.Stop()
package governance
