package turns

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/callcore/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Ledger is the ordered, versioned store of one session's turns
type Ledger struct {
	sessionID string
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	turns     map[string]*Turn
	ids       []string // insertion order
	nextOrder int

	// handlers run in subscription order
	handlersMu      sync.RWMutex
	handlerSeq      int
	updatedHandlers []subscriber[func(id string)]
	addedHandlers   []subscriber[func(turn Turn)]
}

type subscriber[F any] struct {
	key int
	fn  F
}

func unsubscribeKey[F any](subs []subscriber[F], key int) []subscriber[F] {
	for i, sub := range subs {
		if sub.key == key {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the session-scoped logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger for a session
func New(sessionID string, opts ...Option) *Ledger {
	observability.EnsureRegistered()

	l := &Ledger{
		sessionID: sessionID,
		logger:    zerolog.Nop(),
		now:       time.Now,
		turns:     make(map[string]*Turn),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SessionID returns the session the ledger belongs to
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// CurrentOrder returns the order value the next created turn will receive.
func (l *Ledger) CurrentOrder() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOrder
}

// Create builds a turn of the given kind, assigns its order and stores it.
func (l *Ledger) Create(kind Kind, p Params) (Turn, error) {
	v, ok := variants[kind]
	if !ok {
		return Turn{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if !v.content && p.Content != "" {
		return Turn{}, fmt.Errorf("%w: %s turns carry no content", ErrInvalidParams, kind)
	}
	if !v.tools && len(p.ToolCalls) > 0 {
		return Turn{}, fmt.Errorf("%w: %s turns carry no tool calls", ErrInvalidParams, kind)
	}

	id := p.ID
	if id == "" {
		suffix, err := gonanoid.New()
		if err != nil {
			return Turn{}, fmt.Errorf("failed to generate turn id: %w", err)
		}
		id = v.prefix + "-" + suffix
	}

	status := p.Status
	if status == "" && v.role == RoleBot {
		status = StatusComplete
	}

	turn := &Turn{
		ID:        id,
		SessionID: l.sessionID,
		Role:      v.role,
		Type:      v.typ,
		Kind:      kind,
		CreatedAt: l.now(),
		Version:   0,
		Origin:    p.Origin,
		Status:    status,
		Content:   p.Content,
	}
	if len(p.ToolCalls) > 0 {
		turn.ToolCalls = make([]ToolCall, len(p.ToolCalls))
		copy(turn.ToolCalls, p.ToolCalls)
	}

	l.mu.Lock()
	if _, exists := l.turns[id]; exists {
		l.mu.Unlock()
		return Turn{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	turn.Order = l.nextOrder
	l.nextOrder++
	l.turns[id] = turn
	l.ids = append(l.ids, id)
	created := turn.clone()
	l.mu.Unlock()

	observability.RecordTurnCreated(string(created.Role), string(created.Type))
	l.logger.Debug().
		Str("turn_id", created.ID).
		Str("kind", string(kind)).
		Int("order", created.Order).
		Msg("Turn created")

	l.emitAdded(created)
	return created, nil
}

// AddHumanText records caller speech.
func (l *Ledger) AddHumanText(p Params) (Turn, error) { return l.Create(KindHumanText, p) }

// AddHumanDTMF records keypad input; Content holds the digits.
func (l *Ledger) AddHumanDTMF(p Params) (Turn, error) { return l.Create(KindHumanDTMF, p) }

// AddBotText records agent speech.
func (l *Ledger) AddBotText(p Params) (Turn, error) { return l.Create(KindBotText, p) }

// AddBotDTMF records digits sent by the agent.
func (l *Ledger) AddBotDTMF(p Params) (Turn, error) { return l.Create(KindBotDTMF, p) }

// AddBotTool records the tool calls requested by the model.
func (l *Ledger) AddBotTool(p Params) (Turn, error) { return l.Create(KindBotTool, p) }

// AddSystem records a system event.
func (l *Ledger) AddSystem(p Params) (Turn, error) { return l.Create(KindSystem, p) }

// Mutate applies m to the turn with id, bumps its version and emits the
// updated event before returning it.
func (l *Ledger) Mutate(id string, m Mutation) (Event, error) {
	if m.apply == nil {
		return Event{}, fmt.Errorf("%w: empty mutation", ErrInvalidParams)
	}

	l.mu.Lock()
	turn, ok := l.turns[id]
	if !ok {
		l.mu.Unlock()
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownTurn, id)
	}
	if !Mutable(turn.Kind, m.Field) {
		kind := turn.Kind
		l.mu.Unlock()
		return Event{}, fmt.Errorf("%w: %s on %s", ErrImmutableField, m.Field, kind)
	}
	m.apply(turn)
	turn.Version++
	event := Event{Type: EventUpdated, TurnID: id, Field: m.Field, Version: turn.Version}
	l.mu.Unlock()

	observability.RecordTurnMutation(string(m.Field))
	l.emitUpdated(id)
	return event, nil
}

// SetToolResult attaches result to the tool call with toolCallID. It is a
// no-op returning false when no bot tool turn holds that call.
func (l *Ledger) SetToolResult(toolCallID string, result any) (Turn, bool) {
	l.mu.Lock()
	var target *Turn
	idx := -1
	for _, id := range l.ids {
		turn := l.turns[id]
		if turn.Kind != KindBotTool {
			continue
		}
		for i := range turn.ToolCalls {
			if turn.ToolCalls[i].ID == toolCallID {
				target, idx = turn, i
				break
			}
		}
		if target != nil {
			break
		}
	}
	if target == nil {
		l.mu.Unlock()
		l.logger.Debug().Str("tool_call_id", toolCallID).Msg("No tool turn holds this call id")
		return Turn{}, false
	}
	target.ToolCalls[idx].Result = result
	target.Version++
	updated := target.clone()
	l.mu.Unlock()

	observability.RecordTurnMutation(string(FieldToolResult))
	l.emitUpdated(updated.ID)
	return updated, true
}

// Get returns a copy of the turn with id.
func (l *Ledger) Get(id string) (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	turn, ok := l.turns[id]
	if !ok {
		return Turn{}, false
	}
	return turn.clone(), true
}

// Delete removes the turn with id. The order counter is not rewound.
func (l *Ledger) Delete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.turns[id]; !ok {
		return false
	}
	delete(l.turns, id)
	for i, existing := range l.ids {
		if existing == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			break
		}
	}
	return true
}

// List returns copies of all turns in insertion order.
func (l *Ledger) List() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Turn, 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.turns[id].clone())
	}
	return out
}

// Sorted returns copies of all turns in ascending order.
func (l *Ledger) Sorted() []Turn {
	out := l.List()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Len returns the number of stored turns
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// LastByOrigin returns the turn with the highest order carrying origin.
func (l *Ledger) LastByOrigin(origin string) (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var last *Turn
	for _, id := range l.ids {
		turn := l.turns[id]
		if turn.Origin != origin {
			continue
		}
		if last == nil || turn.Order > last.Order {
			last = turn
		}
	}
	if last == nil {
		return Turn{}, false
	}
	return last.clone(), true
}

// Restore loads previously archived turns, keeping their ids, orders and
// versions. The order counter advances past the highest restored order.
// The batch is validated as a whole; on error nothing is restored. No events
// are emitted.
func (l *Ledger) Restore(archived []Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := make(map[string]bool, len(archived))
	for _, t := range archived {
		if _, ok := variants[t.Kind]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKind, t.Kind)
		}
		if t.ID == "" {
			return fmt.Errorf("%w: archived turn without id", ErrInvalidParams)
		}
		if _, exists := l.turns[t.ID]; exists || batch[t.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		batch[t.ID] = true
	}

	for _, t := range archived {
		restored := t.clone()
		restored.SessionID = l.sessionID
		l.turns[restored.ID] = &restored
		l.ids = append(l.ids, restored.ID)
		if restored.Order >= l.nextOrder {
			l.nextOrder = restored.Order + 1
		}
	}
	return nil
}

// OnUpdatedTurn subscribes to updated events. Handlers run synchronously on the
// mutating goroutine, outside the ledger lock.
func (l *Ledger) OnUpdatedTurn(handler func(id string)) (unsubscribe func()) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()

	l.handlerSeq++
	key := l.handlerSeq
	l.updatedHandlers = append(l.updatedHandlers, subscriber[func(string)]{key: key, fn: handler})
	return func() {
		l.handlersMu.Lock()
		defer l.handlersMu.Unlock()
		l.updatedHandlers = unsubscribeKey(l.updatedHandlers, key)
	}
}

// OnAddedTurn subscribes to turn creation.
func (l *Ledger) OnAddedTurn(handler func(turn Turn)) (unsubscribe func()) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()

	l.handlerSeq++
	key := l.handlerSeq
	l.addedHandlers = append(l.addedHandlers, subscriber[func(Turn)]{key: key, fn: handler})
	return func() {
		l.handlersMu.Lock()
		defer l.handlersMu.Unlock()
		l.addedHandlers = unsubscribeKey(l.addedHandlers, key)
	}
}

func (l *Ledger) emitUpdated(id string) {
	l.handlersMu.RLock()
	handlers := l.updatedHandlers
	l.handlersMu.RUnlock()

	for _, h := range handlers {
		h.fn(id)
	}
}

func (l *Ledger) emitAdded(turn Turn) {
	l.handlersMu.RLock()
	handlers := l.addedHandlers
	l.handlersMu.RUnlock()

	for _, h := range handlers {
		h.fn(turn.clone())
	}
}
