package turns

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_OrderStrictlyIncreasing(t *testing.T) {
	ledger := New("CA1")

	seen := map[int]bool{}
	prev := -1
	for i := 0; i < 50; i++ {
		var (
			turn Turn
			err  error
		)
		switch i % 3 {
		case 0:
			turn, err = ledger.AddHumanText(Params{Content: "hello"})
		case 1:
			turn, err = ledger.AddBotText(Params{Content: "hi"})
		default:
			turn, err = ledger.AddSystem(Params{Content: "event"})
		}
		require.NoError(t, err)

		assert.Greater(t, turn.Order, prev)
		assert.False(t, seen[turn.Order], "order %d assigned twice", turn.Order)
		seen[turn.Order] = true
		prev = turn.Order
	}
	assert.Equal(t, 50, ledger.CurrentOrder())
}

func TestLedger_OrderNotReusedAfterDelete(t *testing.T) {
	ledger := New("CA1")

	first, err := ledger.AddHumanText(Params{Content: "a"})
	require.NoError(t, err)
	require.True(t, ledger.Delete(first.ID))

	second, err := ledger.AddHumanText(Params{Content: "b"})
	require.NoError(t, err)
	assert.Greater(t, second.Order, first.Order)
}

func TestLedger_CreateStampsEnvelope(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ledger := New("CA9", WithClock(func() time.Time { return fixed }))

	tests := []struct {
		kind   Kind
		role   Role
		typ    Type
		prefix string
	}{
		{KindHumanText, RoleHuman, TypeText, "hum-"},
		{KindHumanDTMF, RoleHuman, TypeDTMF, "hum-"},
		{KindBotText, RoleBot, TypeText, "bot-"},
		{KindBotDTMF, RoleBot, TypeDTMF, "bot-"},
		{KindSystem, RoleSystem, TypeSystem, "sys-"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			turn, err := ledger.Create(tt.kind, Params{Content: "x"})
			require.NoError(t, err)

			assert.Equal(t, "CA9", turn.SessionID)
			assert.Equal(t, tt.role, turn.Role)
			assert.Equal(t, tt.typ, turn.Type)
			assert.Equal(t, tt.kind, turn.Kind)
			assert.Equal(t, 0, turn.Version)
			assert.Equal(t, fixed, turn.CreatedAt)
			assert.Contains(t, turn.ID, tt.prefix)
		})
	}
}

func TestLedger_CreateKeepsCallerID(t *testing.T) {
	ledger := New("CA1")

	turn, err := ledger.AddBotText(Params{ID: "bot-fixed", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "bot-fixed", turn.ID)
	assert.Equal(t, StatusComplete, turn.Status)

	_, err = ledger.AddBotText(Params{ID: "bot-fixed", Content: "again"})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestLedger_CreateRejectsForeignPayload(t *testing.T) {
	ledger := New("CA1")

	_, err := ledger.AddBotTool(Params{Content: "text on a tool turn"})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = ledger.AddHumanText(Params{ToolCalls: []ToolCall{{ID: "c1"}}})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = ledger.Create(Kind("bogus"), Params{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 0, ledger.Len())
}

func TestLedger_MutateBumpsVersionAndEmitsOnce(t *testing.T) {
	ledger := New("CA1")

	turn, err := ledger.AddBotText(Params{Content: "Let me"})
	require.NoError(t, err)

	var events []string
	unsubscribe := ledger.OnUpdatedTurn(func(id string) { events = append(events, id) })
	defer unsubscribe()

	event, err := ledger.Mutate(turn.ID, AppendContent(" check"))
	require.NoError(t, err)

	assert.Equal(t, EventUpdated, event.Type)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, FieldContent, event.Field)
	assert.Equal(t, []string{turn.ID}, events)

	got, ok := ledger.Get(turn.ID)
	require.True(t, ok)
	assert.Equal(t, "Let me check", got.Content)
	assert.Equal(t, 1, got.Version)

	_, err = ledger.Mutate(turn.ID, Interrupt())
	require.NoError(t, err)

	got, _ = ledger.Get(turn.ID)
	assert.True(t, got.Interrupted())
	assert.Equal(t, 2, got.Version)
	assert.Len(t, events, 2)
}

func TestLedger_MutateRejectsImmutableFields(t *testing.T) {
	ledger := New("CA1")

	human, err := ledger.AddHumanText(Params{Content: "hi"})
	require.NoError(t, err)
	tool, err := ledger.AddBotTool(Params{ToolCalls: []ToolCall{{ID: "call-1", Name: "lookup"}}})
	require.NoError(t, err)

	var fired int
	ledger.OnUpdatedTurn(func(string) { fired++ })

	_, err = ledger.Mutate(human.ID, Interrupt())
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = ledger.Mutate(tool.ID, SetContent("nope"))
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = ledger.Mutate("missing", SetContent("x"))
	assert.ErrorIs(t, err, ErrUnknownTurn)

	got, _ := ledger.Get(human.ID)
	assert.Equal(t, 0, got.Version)
	assert.Equal(t, 0, fired)
}

func TestLedger_SetToolResult(t *testing.T) {
	ledger := New("CA1")

	tool, err := ledger.AddBotTool(Params{ToolCalls: []ToolCall{
		{ID: "call-1", Name: "lookup_order", Arguments: `{"id":"42"}`},
		{ID: "call-2", Name: "check_stock", Arguments: `{}`},
	}})
	require.NoError(t, err)

	var events []string
	ledger.OnUpdatedTurn(func(id string) { events = append(events, id) })

	updated, ok := ledger.SetToolResult("call-2", map[string]any{"in_stock": true})
	require.True(t, ok)
	assert.Equal(t, tool.ID, updated.ID)
	assert.Equal(t, 1, updated.Version)
	assert.Nil(t, updated.ToolCalls[0].Result)
	assert.Equal(t, map[string]any{"in_stock": true}, updated.ToolCalls[1].Result)
	assert.Equal(t, []string{tool.ID}, events)

	_, ok = ledger.SetToolResult("call-404", "x")
	assert.False(t, ok)
	assert.Len(t, events, 1)
}

func TestLedger_ReturnsCopies(t *testing.T) {
	ledger := New("CA1")

	tool, err := ledger.AddBotTool(Params{ToolCalls: []ToolCall{{ID: "call-1"}}})
	require.NoError(t, err)

	tool.ToolCalls[0].Result = "tampered"
	tool.Order = 99

	got, _ := ledger.Get(tool.ID)
	assert.Nil(t, got.ToolCalls[0].Result)
	assert.Equal(t, 0, got.Order)
}

func TestLedger_ListInsertionOrderSortedByOrder(t *testing.T) {
	ledger := New("CA1")
	require.NoError(t, ledger.Restore([]Turn{
		{ID: "hum-late", Kind: KindHumanText, Role: RoleHuman, Type: TypeText, Order: 7},
		{ID: "bot-early", Kind: KindBotText, Role: RoleBot, Type: TypeText, Order: 2},
	}))

	list := ledger.List()
	require.Len(t, list, 2)
	assert.Equal(t, "hum-late", list[0].ID)

	sorted := ledger.Sorted()
	assert.Equal(t, "bot-early", sorted[0].ID)
	assert.Equal(t, "hum-late", sorted[1].ID)

	next, err := ledger.AddHumanText(Params{Content: "after restore"})
	require.NoError(t, err)
	assert.Equal(t, 8, next.Order)
}

func TestLedger_LastByOrigin(t *testing.T) {
	ledger := New("CA1")

	_, ok := ledger.LastByOrigin(OriginFiller)
	assert.False(t, ok)

	_, err := ledger.AddBotText(Params{Content: "One moment", Origin: OriginFiller})
	require.NoError(t, err)
	second, err := ledger.AddBotText(Params{Content: "Still checking", Origin: OriginFiller})
	require.NoError(t, err)
	_, err = ledger.AddBotText(Params{Content: "Found it"})
	require.NoError(t, err)

	last, ok := ledger.LastByOrigin(OriginFiller)
	require.True(t, ok)
	assert.Equal(t, second.ID, last.ID)
}

func TestLedger_AddedAndUnsubscribe(t *testing.T) {
	ledger := New("CA1")

	var added []Turn
	unsubscribe := ledger.OnAddedTurn(func(turn Turn) { added = append(added, turn) })

	_, err := ledger.AddHumanDTMF(Params{Content: "1234"})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "1234", added[0].Content)

	unsubscribe()
	_, err = ledger.AddHumanDTMF(Params{Content: "5"})
	require.NoError(t, err)
	assert.Len(t, added, 1)
}

func TestLedger_ConcurrentCreateAndMutate(t *testing.T) {
	ledger := New("CA1")

	base, err := ledger.AddBotText(Params{Status: StatusStreaming})
	require.NoError(t, err)

	var mu sync.Mutex
	notifications := 0
	ledger.OnUpdatedTurn(func(string) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = ledger.AddBotText(Params{Content: "filler", Origin: OriginFiller})
		}()
		go func() {
			defer wg.Done()
			_, _ = ledger.Mutate(base.ID, AppendContent("."))
		}()
	}
	wg.Wait()

	got, _ := ledger.Get(base.ID)
	assert.Equal(t, 20, got.Version)
	assert.Equal(t, 20, notifications)

	orders := map[int]bool{}
	for _, turn := range ledger.List() {
		assert.False(t, orders[turn.Order])
		orders[turn.Order] = true
	}
	assert.Len(t, orders, 21)
}

func TestLedger_HandlersRunInSubscriptionOrder(t *testing.T) {
	ledger := New("CA1")

	var calls []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		name := name
		ledger.OnAddedTurn(func(Turn) { calls = append(calls, "added-"+name) })
	}
	unsubscribeFirst := ledger.OnUpdatedTurn(func(string) { calls = append(calls, "updated-1") })
	ledger.OnUpdatedTurn(func(string) { calls = append(calls, "updated-2") })
	ledger.OnUpdatedTurn(func(string) { calls = append(calls, "updated-3") })

	turn, err := ledger.AddBotText(Params{Content: "hi"})
	require.NoError(t, err)
	_, err = ledger.Mutate(turn.ID, AppendContent("!"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"added-a", "added-b", "added-c", "added-d", "added-e",
		"updated-1", "updated-2", "updated-3",
	}, calls)

	calls = nil
	unsubscribeFirst()
	_, err = ledger.Mutate(turn.ID, AppendContent("!"))
	require.NoError(t, err)
	assert.Equal(t, []string{"updated-2", "updated-3"}, calls)
}

func TestLedger_RestoreIsAllOrNothing(t *testing.T) {
	tests := []struct {
		name    string
		batch   []Turn
		wantErr error
	}{
		{
			name: "unknown kind after valid turns",
			batch: []Turn{
				{ID: "hum-1", Kind: KindHumanText, Role: RoleHuman, Type: TypeText, Order: 4},
				{ID: "bad-1", Kind: Kind("bogus"), Order: 9},
			},
			wantErr: ErrUnknownKind,
		},
		{
			name: "duplicate inside the batch",
			batch: []Turn{
				{ID: "hum-1", Kind: KindHumanText, Role: RoleHuman, Type: TypeText, Order: 4},
				{ID: "hum-1", Kind: KindHumanText, Role: RoleHuman, Type: TypeText, Order: 5},
			},
			wantErr: ErrDuplicateID,
		},
		{
			name: "missing id",
			batch: []Turn{
				{ID: "hum-1", Kind: KindHumanText, Role: RoleHuman, Type: TypeText, Order: 4},
				{Kind: KindSystem, Role: RoleSystem, Type: TypeSystem, Order: 6},
			},
			wantErr: ErrInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := New("CA1")

			err := ledger.Restore(tt.batch)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, ledger.Len())
			assert.Equal(t, 0, ledger.CurrentOrder())

			_, ok := ledger.Get("hum-1")
			assert.False(t, ok)
		})
	}
}
