package toolexecutor

import (
	"context"
	"time"

	"github.com/harun/callcore/pkg/sessionctx"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
)

// Default timings
const (
	DefaultShortDelay   = 400 * time.Millisecond
	DefaultLongDelay    = 4500 * time.Millisecond
	DefaultRepeatWindow = 5 * time.Second
	DefaultTimeout      = 30 * time.Second
)

// Status is the tri-state outcome of a tool call
type Status string

const (
	StatusSuccess Status = "success"
	// StatusComplete means the tool finished the step on its own and the model
	// need not be prompted with the result.
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Response is the normalized result of ExecuteTool
type Response struct {
	Status Status `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Err is the underlying error of an error response, for errors.Is.
	Err error `json:"-"`
}

// OK reports whether the call succeeded.
func (r Response) OK() bool {
	return r.Status != StatusError
}

// Completed wraps a function result so it is reported with StatusComplete.
func Completed(result any) Response {
	return Response{Status: StatusComplete, Result: result}
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Error: err.Error(), Err: err}
}

// Sink receives spoken output. last marks the final chunk of an utterance.
type Sink interface {
	SendUtterance(text string, last bool)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(text string, last bool)

// SendUtterance calls f.
func (f SinkFunc) SendUtterance(text string, last bool) { f(text, last) }

type discardSink struct{}

func (discardSink) SendUtterance(string, bool) {}

// Deps are the session collaborators handed to function tools
type Deps struct {
	TurnID  string
	Ledger  *turns.Ledger
	Sink    Sink
	Session *sessionctx.Context
	Logger  zerolog.Logger
}

// Function is a locally registered executor for a function tool. args is the
// raw JSON argument object. Returning a Response passes it through as is.
type Function func(ctx context.Context, args string, deps Deps) (any, error)

// Functions maps tool names to executors. It is built once at startup.
type Functions map[string]Function
