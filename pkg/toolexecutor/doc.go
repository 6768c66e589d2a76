// Package toolexecutor executes one tool call for a session while racing two
// filler timers that mask the call's latency.
//
// Invariants:
// - ExecuteTool never panics and never returns a Go error; every outcome is
//   normalized into a Response.
// - A tool is re-authorized against the live manifest right before it runs.
// - Filler timers are cancelled when the call settles; a timer that already
//   fired keeps its effect.
// - At most one filler is spoken per repeat window across all calls of a session.
//
// Usage:
//
//	orch := toolexecutor.New(toolexecutor.Config{
//		Resolver: resolver,
//		Ledger:   ledger,
//		Sink:     toolexecutor.SinkFunc(func(text string, last bool) { transport.Say(text, last) }),
//		Functions: toolexecutor.Functions{
//			"end_call": func(ctx context.Context, args string, deps toolexecutor.Deps) (any, error) {
//				return toolexecutor.Completed("bye"), nil
//			},
//		},
//	})
//	resp := orch.ExecuteTool(ctx, turn.ID, "lookup_order", `{"order_id":"42"}`)
package toolexecutor
