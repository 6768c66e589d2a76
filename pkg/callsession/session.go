package callsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harun/callcore/internal/logger"
	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/commandqueue"
	"github.com/harun/callcore/pkg/governance"
	"github.com/harun/callcore/pkg/sessionctx"
	"github.com/harun/callcore/pkg/toolexecutor"
	"github.com/harun/callcore/pkg/transcript"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
)

// DefaultGovernanceInterval is used when Config.GovernanceInterval is zero
const DefaultGovernanceInterval = 30 * time.Second

var ErrNoCompleter = errors.New("governance needs a completer")

// Timings groups the orchestrator delays. Zero values use the package defaults.
type Timings struct {
	ShortDelay   time.Duration
	LongDelay    time.Duration
	RepeatWindow time.Duration
	ToolTimeout  time.Duration
}

// Config holds everything needed to open a session
type Config struct {
	SessionID string
	Logger    zerolog.Logger

	// Context seeds the session context document.
	Context map[string]any
	// Resolver configurations are applied in order.
	Resolver []agent.ResolverConfig

	Sink       toolexecutor.Sink
	Functions  toolexecutor.Functions
	HTTPClient *http.Client
	Timings    Timings

	// Completer backs governance; nil disables it.
	Completer          agent.Completer
	GovernanceInterval time.Duration
	GovernanceTimeout  time.Duration
	// GovernanceInstructions overrides the embedded review template.
	GovernanceInstructions string

	// Store archives turns as they are created and snapshots the session on
	// Close; nil disables archiving.
	Store *transcript.Store
	// Resume restores turns and context archived under SessionID.
	Resume bool

	// Queue is shared between sessions when set; otherwise the session owns one.
	Queue *commandqueue.CommandQueue
}

// Session is one live call
type Session struct {
	id     string
	logger zerolog.Logger

	ledger       *turns.Ledger
	context      *sessionctx.Context
	resolver     *agent.Resolver
	orchestrator *toolexecutor.Orchestrator
	governance   *governance.Loop
	store        *transcript.Store
	stopArchive  func()

	queue     *commandqueue.CommandQueue
	ownsQueue bool

	interval  time.Duration
	closeOnce sync.Once
	closeErr  error
}

// New opens a session
func New(cfg Config) (*Session, error) {
	if err := transcript.ValidateSessionID(cfg.SessionID); err != nil {
		return nil, err
	}
	observability.EnsureRegistered()

	sessionLogger := logger.ForSession(cfg.Logger, cfg.SessionID)

	sessionCtx, err := sessionctx.NewFromMap(cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to seed session context: %w", err)
	}
	ledger := turns.New(cfg.SessionID, turns.WithLogger(logger.Component(sessionLogger, "turns")))

	if cfg.Resume && cfg.Store != nil {
		if err := restore(cfg.Store, cfg.SessionID, ledger, sessionCtx); err != nil {
			return nil, err
		}
	}

	resolver, err := agent.NewResolver(sessionCtx, sessionLogger, cfg.Resolver...)
	if err != nil {
		sessionLogger.Warn().Err(err).Msg("Some tools were rejected while configuring the session")
	}

	orchestrator := toolexecutor.New(toolexecutor.Config{
		Resolver:     resolver,
		Ledger:       ledger,
		Sink:         cfg.Sink,
		Functions:    cfg.Functions,
		HTTPClient:   cfg.HTTPClient,
		Logger:       sessionLogger,
		ShortDelay:   cfg.Timings.ShortDelay,
		LongDelay:    cfg.Timings.LongDelay,
		RepeatWindow: cfg.Timings.RepeatWindow,
		Timeout:      cfg.Timings.ToolTimeout,
	})

	s := &Session{
		id:           cfg.SessionID,
		logger:       sessionLogger,
		ledger:       ledger,
		context:      sessionCtx,
		resolver:     resolver,
		orchestrator: orchestrator,
		store:        cfg.Store,
		queue:        cfg.Queue,
		interval:     cfg.GovernanceInterval,
	}
	if s.queue == nil {
		s.queue = commandqueue.New(sessionLogger)
		s.ownsQueue = true
	}
	if s.store != nil {
		s.stopArchive = ledger.OnAddedTurn(s.archiveTurn)
	}
	if s.interval <= 0 {
		s.interval = DefaultGovernanceInterval
	}
	if cfg.Completer != nil {
		s.governance = governance.New(governance.Config{
			Ledger:       ledger,
			Session:      sessionCtx,
			Resolver:     resolver,
			Completer:    cfg.Completer,
			Logger:       sessionLogger,
			Timeout:      cfg.GovernanceTimeout,
			Instructions: cfg.GovernanceInstructions,
		})
	}

	observability.AddActiveSessions(1)
	observability.RecordSessionAudit(context.Background(), cfg.SessionID, "open", map[string]any{"resumed": cfg.Resume})
	sessionLogger.Info().Bool("resumed", cfg.Resume).Msg("Session opened")
	return s, nil
}

func restore(store *transcript.Store, sessionID string, ledger *turns.Ledger, sessionCtx *sessionctx.Context) error {
	archived, err := store.Load(context.Background(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to load archived transcript: %w", err)
	}
	if err := ledger.Restore(archived); err != nil {
		return fmt.Errorf("failed to restore transcript: %w", err)
	}

	doc, err := store.LoadContext(sessionID)
	if err != nil {
		return err
	}
	if len(doc) > 0 {
		if err := sessionCtx.Merge(doc); err != nil {
			return fmt.Errorf("failed to restore session context: %w", err)
		}
	}
	return nil
}

// archiveTurn keeps the on-disk transcript current during the call. Close
// rewrites it with the final state of every turn.
func (s *Session) archiveTurn(turn turns.Turn) {
	if err := s.store.Append(context.Background(), s.id, turn); err != nil {
		s.logger.Warn().Err(err).Str("turn_id", turn.ID).Msg("Failed to archive turn")
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Ledger returns the turn ledger
func (s *Session) Ledger() *turns.Ledger { return s.ledger }

// Context returns the session context document
func (s *Session) Context() *sessionctx.Context { return s.context }

// Resolver returns the agent resolver
func (s *Session) Resolver() *agent.Resolver { return s.resolver }

// Governance returns the governance loop, or nil when no completer was configured.
func (s *Session) Governance() *governance.Loop { return s.governance }

// ExecuteTool runs a tool call on the session lane.
func (s *Session) ExecuteTool(ctx context.Context, turnID, toolName, args string) toolexecutor.Response {
	return s.onLane(ctx, func(ctx context.Context) toolexecutor.Response {
		return s.orchestrator.ExecuteTool(ctx, turnID, toolName, args)
	})
}

// ExecuteToolCall runs call on the session lane and attaches the result to
// the bot tool turn holding it.
func (s *Session) ExecuteToolCall(ctx context.Context, turnID string, call turns.ToolCall) toolexecutor.Response {
	return s.onLane(ctx, func(ctx context.Context) toolexecutor.Response {
		return s.orchestrator.ExecuteToolCall(ctx, turnID, call)
	})
}

func (s *Session) onLane(ctx context.Context, run func(ctx context.Context) toolexecutor.Response) toolexecutor.Response {
	value, err := s.queue.Enqueue(ctx, s.id, func(ctx context.Context) (any, error) {
		return run(ctx), nil
	})
	if err != nil {
		return toolexecutor.Response{Status: toolexecutor.StatusError, Error: err.Error(), Err: err}
	}
	return value.(toolexecutor.Response)
}

// StartGovernance starts the periodic governance review.
func (s *Session) StartGovernance() error {
	if s.governance == nil {
		return ErrNoCompleter
	}
	return s.governance.Start(s.interval)
}

// Close stops governance, archives the session and releases its lane.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.governance != nil {
			s.governance.Stop()
		}

		var errs []error
		if s.stopArchive != nil {
			s.stopArchive()
		}
		if s.store != nil {
			if err := s.store.Save(ctx, s.id, s.ledger.Sorted()); err != nil {
				errs = append(errs, err)
			}
			if err := s.store.SaveContext(s.id, s.context.JSON()); err != nil {
				errs = append(errs, err)
			}
		}

		if s.ownsQueue {
			if err := s.queue.Close(); err != nil {
				errs = append(errs, err)
			}
		} else {
			s.queue.ClearLane(s.id)
		}

		observability.AddActiveSessions(-1)
		s.closeErr = errors.Join(errs...)
		observability.RecordSessionAudit(ctx, s.id, "close", map[string]any{
			"turns":    s.ledger.Len(),
			"archived": s.store != nil && s.closeErr == nil,
		})
		if s.closeErr != nil {
			s.logger.Error().Err(s.closeErr).Msg("Session closed with errors")
			return
		}
		s.logger.Info().Int("turns", s.ledger.Len()).Msg("Session closed")
	})
	return s.closeErr
}
