package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/harun/callcore/internal/tracing"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	transcriptExt = ".jsonl"
	contextExt    = ".context.json"
	maxLineBytes  = 4 << 20
)

// Entry is one archived line
type Entry struct {
	SessionID string     `json:"session_id"`
	Turn      turns.Turn `json:"turn"`
}

// Store persists transcripts under a directory
type Store struct {
	dir    string
	logger zerolog.Logger

	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates the directory if needed
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".callcore", "sessions")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		logger:     logger.With().Str("component", "transcript").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}
	s.logger.Debug().Str("dir", dir).Msg("Transcript store initialized")
	return s, nil
}

// Dir returns the storage directory
func (s *Store) Dir() string {
	return s.dir
}

// ValidateSessionID rejects ids that are empty or not path-safe.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(sessionID, ext string) string {
	return filepath.Join(s.dir, sessionID+ext)
}

func (s *Store) lock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if l, ok := s.writeLocks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.writeLocks[sessionID] = l
	return l
}

// Append adds one turn to a session transcript.
func (s *Store) Append(ctx context.Context, sessionID string, turn turns.Turn) error {
	ctx, span := tracing.StartSpan(ctx, "transcript", "transcript.append",
		attribute.String("session_id", sessionID),
		attribute.String("turn_id", turn.ID),
	)
	defer span.End()

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	data, err := json.Marshal(Entry{SessionID: sessionID, Turn: turn})
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	file, err := os.OpenFile(s.path(sessionID, transcriptExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to write turn: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("session_id", sessionID).
		Str("turn_id", turn.ID).
		Msg("Turn appended")
	return nil
}

// Save replaces the transcript of a session with list.
func (s *Store) Save(ctx context.Context, sessionID string, list []turns.Turn) error {
	ctx, span := tracing.StartSpan(ctx, "transcript", "transcript.save",
		attribute.String("session_id", sessionID),
		attribute.Int("turns", len(list)),
	)
	defer span.End()

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	var buf strings.Builder
	for _, turn := range list {
		data, err := json.Marshal(Entry{SessionID: sessionID, Turn: turn})
		if err != nil {
			tracing.RecordError(span, err)
			return fmt.Errorf("failed to marshal turn %s: %w", turn.ID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	if err := writeAtomic(s.path(sessionID, transcriptExt), []byte(buf.String())); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("session_id", sessionID).
		Int("turns", len(list)).
		Msg("Transcript saved")
	return nil
}

// Load reads a session transcript. A missing transcript yields no turns.
func (s *Store) Load(ctx context.Context, sessionID string) ([]turns.Turn, error) {
	ctx, span := tracing.StartSpan(ctx, "transcript", "transcript.load",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("session_id", sessionID).Logger()

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	file, err := os.Open(s.path(sessionID, transcriptExt))
	if os.IsNotExist(err) {
		return []turns.Turn{}, nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	out := []turns.Turn{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Turn.ID == "" || entry.Turn.Kind == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		out = append(out, entry.Turn)
	}
	if err := scanner.Err(); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	logger.Debug().Int("turns", len(out)).Msg("Transcript loaded")
	return out, nil
}

// SaveContext stores a snapshot of the session context document.
func (s *Store) SaveContext(sessionID string, doc []byte) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("session context for %s is not valid JSON", sessionID)
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()
	return writeAtomic(s.path(sessionID, contextExt), doc)
}

// LoadContext returns the stored context snapshot, or nil when none exists.
func (s *Store) LoadContext(sessionID string) (map[string]any, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(sessionID, contextExt))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session context: %w", err)
	}

	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse session context: %w", err)
	}
	return out, nil
}

// Delete removes a session transcript and its context snapshot.
func (s *Store) Delete(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	for _, ext := range []string{transcriptExt, contextExt} {
		if err := os.Remove(s.path(sessionID, ext)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", sessionID+ext, err)
		}
	}

	s.locksMu.Lock()
	delete(s.writeLocks, sessionID)
	s.locksMu.Unlock()

	s.logger.Info().Str("session_id", sessionID).Msg("Transcript deleted")
	return nil
}

// List returns the ids of all archived sessions, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), transcriptExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), transcriptExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
