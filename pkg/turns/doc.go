// Package turns implements the per-session ledger of conversation turns.
//
// Invariants:
// - Order is assigned once at creation from a private counter and strictly increases.
// - ID, Role, Type, Kind and Order never change after creation.
// - Every write to a mutable field bumps Version by one and fires exactly one
//   updated event, synchronously, before the write returns.
// - List returns insertion order; callers needing chronology use Sorted.
//
// Usage:
//
//	ledger := turns.New("CA123")
//	unsubscribe := ledger.OnUpdatedTurn(func(id string) { /* push to UI */ })
//	defer unsubscribe()
//	turn, _ := ledger.AddBotText(turns.Params{Content: "Hi"})
//	_, _ = ledger.Mutate(turn.ID, turns.AppendContent(" there"))
package turns
