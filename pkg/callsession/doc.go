// Package callsession composes the per-call state: turn ledger, session
// context, resolver, tool orchestrator, governance loop and archive.
//
// Invariants:
// - Tool executions of one session are serialized on the session's queue lane.
// - Close stops governance before the transcript is archived.
// - Close is safe to call more than once.
//
// Usage:
//
//	sess, err := callsession.New(callsession.Config{
//		SessionID: "CA123",
//		Logger:    logger,
//		Resolver:  []agent.ResolverConfig{base, m.ResolverConfig()},
//		Completer: completer,
//		Sink:      sink,
//		Store:     store,
//	})
//	if err != nil {
//		return err
//	}
//	defer sess.Close(context.Background())
//	_ = sess.StartGovernance()
//	resp := sess.ExecuteTool(ctx, turn.ID, "lookup_order", `{"order_id":"42"}`)
package callsession
