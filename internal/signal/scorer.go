package signal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"crt-trading-engine/internal/logging"
)

// Outcome is a closed trade fed back to the scorer
type Outcome struct {
	Features   Features  `json:"features"`
	Win        bool      `json:"win"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exitReason"`
	ClosedAt   time.Time `json:"closedAt"`
}

// Scorer is the learning collaborator: given indicators it returns a
// confidence in [0,1] with contributing reasons, and it learns from outcomes
type Scorer interface {
	Score(f Features) (float64, []string)
	Feed(o Outcome)
}

type setupStats struct {
	rate    float64
	samples int
}

// OutcomeScorer keeps an exponential moving average win rate per setup
type OutcomeScorer struct {
	mu         sync.RWMutex
	alpha      float64
	minSamples int
	stats      map[Setup]*setupStats
}

// NewOutcomeScorer creates a scorer. alpha is the EMA weight of each new outcome.
func NewOutcomeScorer(alpha float64, minSamples int) *OutcomeScorer {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	if minSamples < 1 {
		minSamples = 5
	}
	return &OutcomeScorer{alpha: alpha, minSamples: minSamples, stats: make(map[Setup]*setupStats)}
}

// Score returns 0.5 until the setup has enough history
func (s *OutcomeScorer) Score(f Features) (float64, []string) {
	s.mu.RLock()
	st, ok := s.stats[f.Setup]
	var rate float64
	var n int
	if ok {
		rate, n = st.rate, st.samples
	}
	s.mu.RUnlock()

	if n < s.minSamples {
		return 0.5, []string{fmt.Sprintf("%s: %d/%d outcomes, no weighting", f.Setup, n, s.minSamples)}
	}

	conf := rate + 0.1*(float64(f.Score.Score)/80-0.5)
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf, []string{
		fmt.Sprintf("%s win rate %.0f%% over %d", f.Setup, rate*100, n),
		fmt.Sprintf("feature score %d/80", f.Score.Score),
	}
}

// Feed updates the setup's win rate
func (s *OutcomeScorer) Feed(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[o.Features.Setup]
	if !ok {
		st = &setupStats{rate: 0.5}
		s.stats[o.Features.Setup] = st
	}
	x := 0.0
	if o.Win {
		x = 1
	}
	st.rate = st.rate*(1-s.alpha) + x*s.alpha
	st.samples++
}

// WinRate returns the learned rate and sample count for setup
func (s *OutcomeScorer) WinRate(setup Setup) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[setup]; ok {
		return st.rate, st.samples
	}
	return 0.5, 0
}

// FeedbackLoop delivers outcomes to a scorer off the trading path
type FeedbackLoop struct {
	scorer  Scorer
	ch      chan Outcome
	logger  *logging.Logger
	dropped atomic.Int64
	fed     atomic.Int64
}

// NewFeedbackLoop creates a loop with a bounded queue
func NewFeedbackLoop(scorer Scorer, size int) *FeedbackLoop {
	if size <= 0 {
		size = 64
	}
	return &FeedbackLoop{
		scorer: scorer,
		ch:     make(chan Outcome, size),
		logger: logging.WithComponent("feedback"),
	}
}

// Offer enqueues o without blocking; false when the queue is full
func (f *FeedbackLoop) Offer(o Outcome) bool {
	select {
	case f.ch <- o:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// Run feeds queued outcomes until ctx is done
func (f *FeedbackLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-f.ch:
			f.feed(o)
		}
	}
}

func (f *FeedbackLoop) feed(o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Scorer panicked on outcome", "panic", fmt.Sprint(r), "setup", string(o.Features.Setup))
		}
	}()
	f.scorer.Feed(o)
	f.fed.Add(1)
}

// Stats returns fed and dropped counts
func (f *FeedbackLoop) Stats() (fed, dropped int64) {
	return f.fed.Load(), f.dropped.Load()
}
