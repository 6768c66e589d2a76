package toolexecutor

import (
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
)

const (
	timerShort = "short"
	timerLong  = "long"
)

// fillerRace owns the two delayed filler actions of one tool call.
type fillerRace struct {
	o         *Orchestrator
	turnID    string
	spec      agent.ToolSpec
	logger    zerolog.Logger
	cancelled atomic.Bool
	short     *time.Timer
	long      *time.Timer
}

func (o *Orchestrator) startFillers(turnID string, spec agent.ToolSpec, logger zerolog.Logger) *fillerRace {
	race := &fillerRace{o: o, turnID: turnID, spec: spec, logger: logger}
	race.short = time.AfterFunc(o.shortDelay, func() { race.fire(timerShort, agent.FillerPoolPrimary) })
	race.long = time.AfterFunc(o.longDelay, func() { race.fire(timerLong, agent.FillerPoolSecondary) })
	return race
}

// cancel stops timers that have not fired yet. Spoken fillers are not retracted.
func (r *fillerRace) cancel() {
	r.cancelled.Store(true)
	r.short.Stop()
	r.long.Stop()
}

func (r *fillerRace) fire(timer, pool string) {
	if r.cancelled.Load() {
		observability.RecordFiller(timer, "cancelled")
		return
	}
	if r.spec.SilentFillers {
		observability.RecordFiller(timer, "silent")
		return
	}
	if turn, ok := r.o.ledger.Get(r.turnID); ok && turn.Interrupted() {
		r.logger.Debug().Str("timer", timer).Msg("Skipping filler for interrupted turn")
		observability.RecordFiller(timer, "interrupted")
		return
	}
	r.o.speakFiller(r, timer, pool)
}

// speakFiller picks, speaks and records one filler phrase. Fillers of all
// calls in the session are serialized so the repeat window holds.
func (o *Orchestrator) speakFiller(r *fillerRace, timer, pool string) {
	o.fillerMu.Lock()
	defer o.fillerMu.Unlock()

	if r.cancelled.Load() {
		observability.RecordFiller(timer, "cancelled")
		return
	}

	phrases, key := r.spec.Fillers, "tool:"+r.spec.Name
	if len(phrases) == 0 {
		phrases, key = o.resolver.FillerPhrases(pool), pool
	}
	if len(phrases) == 0 {
		observability.RecordFiller(timer, "no_phrase")
		return
	}

	if last, ok := o.ledger.LastByOrigin(turns.OriginFiller); ok && o.now().Sub(last.CreatedAt) < o.repeatWindow {
		r.logger.Debug().
			Str("timer", timer).
			Str("last_filler", last.ID).
			Msg("Suppressing filler inside repeat window")
		observability.RecordFiller(timer, "suppressed")
		return
	}

	phrase := phrases[o.rotation[key]%len(phrases)]
	o.rotation[key]++

	chunks := splitSentences(phrase)
	for i, chunk := range chunks {
		o.sink.SendUtterance(chunk, i == len(chunks)-1)
	}

	turn, err := o.ledger.AddBotText(turns.Params{
		Content: phrase,
		Origin:  turns.OriginFiller,
		Status:  turns.StatusComplete,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to record filler turn")
		return
	}

	r.logger.Info().
		Str("timer", timer).
		Str("filler_turn_id", turn.ID).
		Str("phrase", phrase).
		Msg("Spoke filler")
	observability.RecordFiller(timer, "spoken")
}

// splitSentences cuts text after runs of sentence punctuation followed by
// whitespace. Text without punctuation is a single chunk.
func splitSentences(text string) []string {
	var (
		chunks []string
		start  int
		inStop bool
	)
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case r == '.' || r == '!' || r == '?' || r == '…':
			inStop = true
		case unicode.IsSpace(r) && inStop:
			if chunk := strings.TrimSpace(string(runes[start:i])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			start = i
			inStop = false
		default:
			inStop = false
		}
	}
	if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
