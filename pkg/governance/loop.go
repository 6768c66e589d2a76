package governance

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/internal/tracing"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/sessionctx"
	"github.com/harun/callcore/pkg/turns"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds one completion call
const DefaultTimeout = 30 * time.Second

var (
	ErrAlreadyRunning      = errors.New("governance loop is already started")
	ErrTransport           = errors.New("governance completion request failed")
	ErrMalformedResponse   = errors.New("governance completion returned a malformed response")
	ErrCapabilityViolation = errors.New("governance completion attempted to call tools")
)

//go:embed instructions.md
var defaultInstructions string

// Config holds the loop collaborators
type Config struct {
	Ledger    *turns.Ledger
	Session   *sessionctx.Context
	Resolver  *agent.Resolver
	Completer agent.Completer
	Logger    zerolog.Logger

	// Timeout bounds each completion call. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Instructions overrides the embedded review template. It may reference
	// {{context}}, {{transcript}} and any session context path.
	Instructions string
}

// Loop is the periodic governance reviewer of one session
type Loop struct {
	ledger       *turns.Ledger
	session      *sessionctx.Context
	resolver     *agent.Resolver
	completer    agent.Completer
	logger       zerolog.Logger
	timeout      time.Duration
	instructions string

	mu        sync.Mutex
	scheduler *cron.Cron
}

// New creates a stopped loop
func New(cfg Config) *Loop {
	observability.EnsureRegistered()

	l := &Loop{
		ledger:       cfg.Ledger,
		session:      cfg.Session,
		resolver:     cfg.Resolver,
		completer:    cfg.Completer,
		logger:       cfg.Logger.With().Str("component", "governance").Logger(),
		timeout:      cfg.Timeout,
		instructions: cfg.Instructions,
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	if l.instructions == "" {
		l.instructions = defaultInstructions
	}
	if l.session == nil && l.resolver != nil {
		l.session = l.resolver.Session()
	}
	return l
}

// Start schedules a pass every interval. Intervals below one second run every
// second.
func (l *Loop) Start(interval time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scheduler != nil {
		return ErrAlreadyRunning
	}

	adapter := cronLogger{logger: l.logger}
	scheduler := cron.New(
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	scheduler.Schedule(cron.Every(interval), cron.FuncJob(l.tick))
	scheduler.Start()
	l.scheduler = scheduler

	l.logger.Info().Dur("interval", interval).Msg("Governance loop started")
	return nil
}

// Stop halts the schedule. It does not wait for an in-flight pass and is safe
// to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scheduler == nil {
		return
	}
	l.scheduler.Stop()
	l.scheduler = nil

	l.logger.Info().Msg("Governance loop stopped")
}

// Running reports whether a schedule is installed.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scheduler != nil
}

func (l *Loop) tick() {
	if err := l.Execute(context.Background()); err != nil {
		l.logger.Debug().Err(err).Msg("Scheduled governance pass aborted")
	}
}

// Execute runs one governance pass. On any failure the session context is
// left unchanged and the error is returned after being logged.
func (l *Loop) Execute(ctx context.Context) (err error) {
	startTime := time.Now()
	ctx = tracing.WithSessionID(tracing.NewRequestContext(ctx), l.ledger.SessionID())
	ctx, span := tracing.StartSpan(ctx, "governance", "Execute",
		attribute.String("session_id", l.ledger.SessionID()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)
	outcome := "ok"
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		}
		duration := time.Since(startTime)
		observability.RecordGovernancePass(outcome, duration)
		observability.RecordGovernanceAudit(ctx, l.ledger.SessionID(), outcome, map[string]any{
			"duration_ms": duration.Milliseconds(),
		})
	}()

	if !l.resolver.IsReady() {
		outcome = "not_ready"
		return fmt.Errorf("%w: governance needs a configured model", agent.ErrNotReady)
	}

	prompt, err := l.renderInstructions()
	if err != nil {
		outcome = "render_error"
		logger.Error().Err(err).Msg("Failed to render governance instructions")
		return err
	}

	llm := l.resolver.LLMConfig()
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	completion, err := l.completer.Complete(callCtx, agent.CompletionRequest{
		Model:      llm.Model,
		Messages:   []agent.Message{{Role: "user", Content: prompt}},
		JSONObject: true,
	})
	if err != nil {
		outcome = "transport_error"
		logger.Error().Err(err).Str("model", llm.Model).Msg("Governance completion request failed")
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if completion.FinishReason == agent.FinishToolCalls {
		outcome = "capability_violation"
		logger.Error().
			Int("tool_calls", len(completion.ToolCalls)).
			Msg("Governance completion has no tools but attempted to call them")
		return ErrCapabilityViolation
	}
	if completion.FinishReason != agent.FinishStop {
		outcome = "malformed"
		logger.Error().Str("finish_reason", completion.FinishReason).Msg("Governance completion did not finish cleanly")
		return fmt.Errorf("%w: finish reason %q", ErrMalformedResponse, completion.FinishReason)
	}
	if strings.TrimSpace(completion.Content) == "" {
		outcome = "malformed"
		logger.Error().Msg("Governance completion returned no content")
		return fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(completion.Content), &result); err != nil || result == nil {
		outcome = "malformed"
		logger.Error().Str("content", completion.Content).Msg("Governance completion is not a JSON object")
		return fmt.Errorf("%w: content is not a JSON object", ErrMalformedResponse)
	}

	merged := merge(l.session.Governance(), result)
	if err := l.session.Merge(map[string]any{sessionctx.KeyGovernance: merged}); err != nil {
		outcome = "merge_error"
		logger.Error().Err(err).Msg("Failed to merge governance state")
		return err
	}

	if rating, ok := number(merged["rating"]); ok {
		observability.SetGovernanceRating(rating)
		span.SetAttributes(attribute.Float64("rating", rating))
	}
	logger.Info().
		Interface("rating", merged["rating"]).
		Dur("duration", time.Since(startTime)).
		Msg("Governance pass merged")
	return nil
}

// Transcript formats the conversation for review: human turns and spoken bot
// turns in order, skipping fillers, tool turns and system turns.
func (l *Loop) Transcript() string {
	return BuildTranscript(l.ledger.Sorted())
}

// BuildTranscript formats turns as "[ROLE]: content" blocks separated by blank lines.
func BuildTranscript(list []turns.Turn) string {
	blocks := make([]string, 0, len(list))
	for _, turn := range list {
		switch turn.Role {
		case turns.RoleHuman:
		case turns.RoleBot:
			if turn.IsFiller() || turn.Type == turns.TypeTool {
				continue
			}
		default:
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[%s]: %s", strings.ToUpper(string(turn.Role)), turn.Content))
	}
	return strings.Join(blocks, "\n\n")
}

func (l *Loop) renderInstructions() (string, error) {
	doc := l.session.JSON()
	data, err := sjson.SetRawBytes(doc, "context", doc)
	if err != nil {
		return "", fmt.Errorf("failed to build template data: %w", err)
	}
	data, err = sjson.SetBytes(data, "transcript", l.Transcript())
	if err != nil {
		return "", fmt.Errorf("failed to build template data: %w", err)
	}
	return agent.RenderTemplate(l.instructions, data), nil
}
