package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/internal/tracing"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds the orchestrator collaborators and timings. Zero durations use
// the package defaults.
type Config struct {
	Resolver   *agent.Resolver
	Ledger     *turns.Ledger
	Sink       Sink
	Functions  Functions
	HTTPClient *http.Client
	Logger     zerolog.Logger

	ShortDelay   time.Duration
	LongDelay    time.Duration
	RepeatWindow time.Duration
	Timeout      time.Duration
}

// Orchestrator executes tool calls for one session
type Orchestrator struct {
	resolver   *agent.Resolver
	ledger     *turns.Ledger
	sink       Sink
	functions  Functions
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	shortDelay   time.Duration
	longDelay    time.Duration
	repeatWindow time.Duration
	timeout      time.Duration

	fillerMu sync.Mutex
	rotation map[string]int
}

// New creates an orchestrator. Resolver and Ledger are required.
func New(cfg Config) *Orchestrator {
	observability.EnsureRegistered()

	o := &Orchestrator{
		resolver:     cfg.Resolver,
		ledger:       cfg.Ledger,
		sink:         cfg.Sink,
		functions:    cfg.Functions,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger.With().Str("component", "toolexecutor").Logger(),
		now:          time.Now,
		shortDelay:   cfg.ShortDelay,
		longDelay:    cfg.LongDelay,
		repeatWindow: cfg.RepeatWindow,
		timeout:      cfg.Timeout,
		rotation:     make(map[string]int),
	}
	if o.sink == nil {
		o.sink = discardSink{}
	}
	if o.functions == nil {
		o.functions = Functions{}
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	if o.shortDelay <= 0 {
		o.shortDelay = DefaultShortDelay
	}
	if o.longDelay <= 0 {
		o.longDelay = DefaultLongDelay
	}
	if o.repeatWindow <= 0 {
		o.repeatWindow = DefaultRepeatWindow
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	return o
}

// ExecuteTool runs one tool call and returns its normalized outcome. turnID is
// the turn that owns the call; fillers are skipped once it is interrupted.
// Unknown or unauthorized tools yield an error response, but executing a known
// tool before the resolver is configured panics with agent.ErrNotReady.
func (o *Orchestrator) ExecuteTool(ctx context.Context, turnID, toolName, args string) Response {
	startTime := time.Now()
	ctx = tracing.WithTurnID(tracing.NewRequestContext(ctx), turnID)
	ctx, span := tracing.StartSpan(ctx, "toolexecutor", "ExecuteTool",
		attribute.String("tool", toolName),
		attribute.String("turn_id", turnID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, o.logger).With().Str("tool", toolName).Logger()

	// Re-authorize against the live manifest; restriction may have changed
	// since the model was handed its tool list. Resolve panics with
	// agent.ErrNotReady for a known tool on an unconfigured resolver.
	spec, err := o.resolver.Resolve(toolName)
	if err != nil {
		reason := "unknown"
		if errors.Is(err, agent.ErrUnauthorizedTool) {
			reason = "unauthorized"
		}
		observability.RecordToolRejected(reason)
		o.audit(ctx, turnID, toolName, "rejected", err)
		tracing.RecordError(span, err)
		return errorResponse(err)
	}

	if err := o.resolver.ValidateArguments(toolName, args); err != nil {
		logger.Warn().Err(err).Msg("Tool arguments failed validation")
		observability.RecordToolRejected("invalid_arguments")
		o.audit(ctx, turnID, toolName, "rejected", err)
		tracing.RecordError(span, err)
		return errorResponse(err)
	}

	logger.Debug().Str("kind", string(spec.Kind)).Msg("Executing tool")

	race := o.startFillers(turnID, spec, logger)
	resp := o.invoke(ctx, spec, turnID, args, logger)
	race.cancel()

	duration := time.Since(startTime)
	observability.RecordToolExecution(toolName, string(spec.Kind), string(resp.Status), duration)
	o.audit(ctx, turnID, toolName, string(resp.Status), resp.Err)
	span.SetAttributes(attribute.String("status", string(resp.Status)))

	if resp.Status == StatusError {
		tracing.RecordError(span, resp.Err)
		logger.Error().
			Dur("duration", duration).
			Str("error", resp.Error).
			Msg("Tool execution failed")
	} else {
		logger.Info().
			Dur("duration", duration).
			Str("status", string(resp.Status)).
			Msg("Tool execution completed")
	}
	return resp
}

// ExecuteToolCall executes call and attaches the response to the bot tool turn
// holding it.
func (o *Orchestrator) ExecuteToolCall(ctx context.Context, turnID string, call turns.ToolCall) Response {
	resp := o.ExecuteTool(ctx, turnID, call.Name, call.Arguments)
	if _, ok := o.ledger.SetToolResult(call.ID, resp); !ok {
		o.logger.Warn().
			Str("tool_call_id", call.ID).
			Str("turn_id", turnID).
			Msg("Tool result has no owning turn")
	}
	return resp
}

func (o *Orchestrator) audit(ctx context.Context, turnID, toolName, status string, err error) {
	meta := map[string]any{"turn_id": turnID}
	if err != nil {
		meta["error"] = err.Error()
	}
	observability.RecordToolAudit(ctx, o.ledger.SessionID(), toolName, status, meta)
}

func (o *Orchestrator) invoke(ctx context.Context, spec agent.ToolSpec, turnID, args string, logger zerolog.Logger) Response {
	timeoutCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan Response, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Interface("panic", rec).
					Str("stack", string(debug.Stack())).
					Msg("Tool executor panicked")
				done <- errorResponse(fmt.Errorf("tool %s panicked: %v", spec.Name, rec))
			}
		}()
		done <- o.dispatch(timeoutCtx, spec, turnID, args, logger)
	}()

	select {
	case resp := <-done:
		if resp.Status == StatusError && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return errorResponse(fmt.Errorf("tool execution timeout after %v: %w", o.timeout, resp.Err))
		}
		return resp
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return errorResponse(fmt.Errorf("tool execution timeout after %v", o.timeout))
		}
		return errorResponse(fmt.Errorf("tool execution cancelled: %w", timeoutCtx.Err()))
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, spec agent.ToolSpec, turnID, args string, logger zerolog.Logger) Response {
	var (
		result any
		err    error
	)
	switch spec.Kind {
	case agent.ToolKindRequest:
		result, err = o.callEndpoint(ctx, spec, args)
	case agent.ToolKindFunction:
		fn, ok := o.functions[spec.Name]
		if !ok {
			return errorResponse(fmt.Errorf("no executor registered for function tool %s", spec.Name))
		}
		result, err = fn(ctx, args, Deps{
			TurnID:  turnID,
			Ledger:  o.ledger,
			Sink:    o.sink,
			Session: o.resolver.Session(),
			Logger:  logger,
		})
	default:
		return errorResponse(fmt.Errorf("unknown tool type %q for %s", spec.Kind, spec.Name))
	}

	if err != nil {
		return errorResponse(err)
	}
	switch r := result.(type) {
	case Response:
		return normalize(r)
	case *Response:
		if r != nil {
			return normalize(*r)
		}
		return Response{Status: StatusSuccess}
	}
	return Response{Status: StatusSuccess, Result: result}
}

func normalize(r Response) Response {
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	if r.Status == StatusError && r.Error == "" {
		r.Error = "tool reported an error"
	}
	if r.Status == StatusError && r.Err == nil {
		r.Err = errors.New(r.Error)
	}
	return r
}
