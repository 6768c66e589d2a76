package turns

import (
	"errors"
	"time"
)

// Role identifies who produced a turn
type Role string

const (
	RoleHuman  Role = "human"
	RoleBot    Role = "bot"
	RoleSystem Role = "system"
)

// Type identifies the modality of a turn
type Type string

const (
	TypeText   Type = "text"
	TypeDTMF   Type = "dtmf"
	TypeTool   Type = "tool"
	TypeSystem Type = "system"
)

// Kind is the variant tag of a turn
type Kind string

const (
	KindHumanText Kind = "human_text"
	KindHumanDTMF Kind = "human_dtmf"
	KindBotText   Kind = "bot_text"
	KindBotDTMF   Kind = "bot_dtmf"
	KindBotTool   Kind = "bot_tool"
	KindSystem    Kind = "system"
)

// Status is the delivery state of a turn
type Status string

const (
	StatusComplete    Status = "complete"
	StatusStreaming   Status = "streaming"
	StatusInterrupted Status = "interrupted"
)

// OriginFiller marks utterances synthesized to mask tool latency.
const OriginFiller = "filler"

// Field names a mutable turn field
type Field string

const (
	FieldContent    Field = "content"
	FieldStatus     Field = "status"
	FieldToolResult Field = "tool_result"
)

var (
	ErrUnknownTurn    = errors.New("turn not found")
	ErrDuplicateID    = errors.New("turn id already exists")
	ErrImmutableField = errors.New("field is not mutable for this turn kind")
	ErrInvalidParams  = errors.New("invalid turn params")
	ErrUnknownKind    = errors.New("unknown turn kind")
)

// ToolCall is one function call requested by the model within a bot tool turn
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    any    `json:"result,omitempty"`
}

// Turn is one atomic unit of conversation. The envelope fields are shared by
// every variant; Content carries text, digits or system text, ToolCalls is
// only populated on bot tool turns.
type Turn struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Role      Role       `json:"role"`
	Type      Type       `json:"type"`
	Kind      Kind       `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Order     int        `json:"order"`
	Version   int        `json:"version"`
	Origin    string     `json:"origin,omitempty"`
	Status    Status     `json:"status,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Interrupted reports whether the turn was cut off by the caller.
func (t Turn) Interrupted() bool {
	return t.Status == StatusInterrupted
}

// IsFiller reports whether the turn was synthesized as a filler phrase.
func (t Turn) IsFiller() bool {
	return t.Origin == OriginFiller
}

func (t Turn) clone() Turn {
	if t.ToolCalls != nil {
		calls := make([]ToolCall, len(t.ToolCalls))
		copy(calls, t.ToolCalls)
		t.ToolCalls = calls
	}
	return t
}

// Params holds caller-supplied values for a new turn. Fields that do not apply
// to the requested kind must be left empty.
type Params struct {
	ID        string
	Content   string
	Origin    string
	Status    Status
	ToolCalls []ToolCall
}

type variant struct {
	role    Role
	typ     Type
	prefix  string
	mutable map[Field]bool
	content bool
	tools   bool
}

var variants = map[Kind]variant{
	KindHumanText: {role: RoleHuman, typ: TypeText, prefix: "hum", content: true,
		mutable: map[Field]bool{FieldContent: true}},
	KindHumanDTMF: {role: RoleHuman, typ: TypeDTMF, prefix: "hum", content: true,
		mutable: map[Field]bool{FieldContent: true}},
	KindBotText: {role: RoleBot, typ: TypeText, prefix: "bot", content: true,
		mutable: map[Field]bool{FieldContent: true, FieldStatus: true}},
	KindBotDTMF: {role: RoleBot, typ: TypeDTMF, prefix: "bot", content: true,
		mutable: map[Field]bool{FieldContent: true, FieldStatus: true}},
	KindBotTool: {role: RoleBot, typ: TypeTool, prefix: "bot", tools: true,
		mutable: map[Field]bool{FieldStatus: true, FieldToolResult: true}},
	KindSystem: {role: RoleSystem, typ: TypeSystem, prefix: "sys", content: true,
		mutable: map[Field]bool{FieldContent: true}},
}

// Mutable reports whether field may be written on turns of kind.
func Mutable(kind Kind, field Field) bool {
	v, ok := variants[kind]
	return ok && v.mutable[field]
}

// EventType distinguishes ledger notifications
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
)

// Event describes one ledger notification
type Event struct {
	Type    EventType `json:"type"`
	TurnID  string    `json:"turn_id"`
	Field   Field     `json:"field,omitempty"`
	Version int       `json:"version"`
}

// Mutation is an explicit write to one mutable field
type Mutation struct {
	Field Field
	apply func(*Turn)
}

// SetContent replaces the turn content.
func SetContent(content string) Mutation {
	return Mutation{Field: FieldContent, apply: func(t *Turn) { t.Content = content }}
}

// AppendContent appends a streamed chunk to the turn content.
func AppendContent(chunk string) Mutation {
	return Mutation{Field: FieldContent, apply: func(t *Turn) { t.Content += chunk }}
}

// SetStatus replaces the turn status.
func SetStatus(status Status) Mutation {
	return Mutation{Field: FieldStatus, apply: func(t *Turn) { t.Status = status }}
}

// Interrupt flags the turn as cut off by the caller.
func Interrupt() Mutation {
	return SetStatus(StatusInterrupted)
}
