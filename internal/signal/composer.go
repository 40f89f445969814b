package signal

import (
	"fmt"
	"math"
	"time"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/candles"
)

// ComposerConfig holds the ladder constants
type ComposerConfig struct {
	StopBuffer float64 `json:"stopBuffer"` // fraction of the level

	SniperConfidence float64 `json:"sniperConfidence"`
	SniperRR         float64 `json:"sniperRR"`

	ZoneTolerance  float64 `json:"zoneTolerance"` // fraction of price around CE
	ZoneConfidence float64 `json:"zoneConfidence"`
	ZoneBonus      float64 `json:"zoneBonus"`
	ZoneActiveRR   float64 `json:"zoneActiveRR"`
	ZoneInversedRR float64 `json:"zoneInversedRR"`
	SequenceWindow int     `json:"sequenceWindow"`

	TrendWindow     int     `json:"trendWindow"`
	TrendConfidence float64 `json:"trendConfidence"`
	TrendRR         float64 `json:"trendRR"`
	RSIOverbought   float64 `json:"rsiOverbought"`
	RSIOversold     float64 `json:"rsiOversold"`
}

// DefaultComposerConfig returns the validated ladder constants
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		StopBuffer:       0.0005,
		SniperConfidence: 98,
		SniperRR:         3,
		ZoneTolerance:    0.002,
		ZoneConfidence:   88,
		ZoneBonus:        4,
		ZoneActiveRR:     3,
		ZoneInversedRR:   2.5,
		SequenceWindow:   5,
		TrendWindow:      8,
		TrendConfidence:  85,
		TrendRR:          2,
		RSIOverbought:    70,
		RSIOversold:      30,
	}
}

// Composer evaluates the priority ladder, then the adjustment rules
type Composer struct {
	cfg   ComposerConfig
	rules []Rule
}

// NewComposer creates a composer. rules run in order after the ladder.
func NewComposer(cfg ComposerConfig, rules ...Rule) *Composer {
	return &Composer{cfg: cfg, rules: rules}
}

// Rules returns the configured adjustment rules
func (c *Composer) Rules() []Rule { return c.rules }

// Compose returns the first matching tier, or a neutral signal
func (c *Composer) Compose(r analysis.Result) Signal {
	if len(r.Window) == 0 || r.Price <= 0 {
		return c.stamp(None(r.Pair, "insufficient data"), r)
	}

	sig, ok := c.sniper(r)
	if !ok {
		sig, ok = c.zoneSequence(r)
	}
	if !ok {
		sig, ok = c.trend(r)
	}
	if !ok {
		return c.stamp(None(r.Pair, "no setup"), r)
	}

	sig = c.stamp(sig, r)
	sig = Apply(sig, r, c.rules)
	return sig
}

func (c *Composer) stamp(sig Signal, r analysis.Result) Signal {
	sig.Pair = r.Pair
	sig.CloseTime = r.CloseTime
	if r.CloseTime > 0 {
		sig.Timestamp = time.UnixMilli(r.CloseTime).UTC()
	}
	sig.Features = Features{
		Setup:      sig.Setup,
		Direction:  sig.Direction,
		Session:    r.Session,
		Indicators: r.Indicators,
		Score:      r.Features,
	}
	return sig
}

// build fills levels from entry, stop and an R multiple; false on bad geometry
func (c *Composer) build(dir Direction, setup Setup, conf, entry, stop, rr float64, reason string) (Signal, bool) {
	risk := math.Abs(entry - stop)
	target := entry + rr*risk
	if dir == Short {
		target = entry - rr*risk
	}
	if !validGeometry(dir, entry, stop, target) {
		return Signal{}, false
	}
	return Signal{
		Direction:  dir,
		Confidence: conf,
		Setup:      setup,
		Reason:     reason,
		Reasons:    []string{reason},
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: target,
		RiskReward: RR(entry, stop, target),
	}, true
}

func (c *Composer) stopBeyond(dir Direction, level float64) float64 {
	if dir == Long {
		return level * (1 - c.cfg.StopBuffer)
	}
	return level * (1 + c.cfg.StopBuffer)
}

// sniper: live sweep plus an Active zone of the matching polarity
func (c *Composer) sniper(r analysis.Result) (Signal, bool) {
	if r.Sweep == nil {
		return Signal{}, false
	}
	dir := FromMarket(r.Sweep.Direction())
	want := analysis.Demand
	if dir == Short {
		want = analysis.Supply
	}

	for i := range r.Zones {
		z := r.Zones[i]
		if z.Status != analysis.ZoneActive || z.Kind != want {
			continue
		}
		reason := fmt.Sprintf("sweep of %.4f into active %s %s", r.Sweep.Level, z.Kind, z.Subtype)
		sig, ok := c.build(dir, SetupSniper, c.cfg.SniperConfidence, r.Price, c.stopBeyond(dir, r.Sweep.Level), c.cfg.SniperRR, reason)
		if !ok {
			return Signal{}, false
		}
		sig.Zone = &z
		sw := *r.Sweep
		sig.Sweep = &sw
		return sig, true
	}
	return Signal{}, false
}

// zoneSequence: price at a zone CE confirmed by the short candle sequence.
// Active zones are tried before Inversed ones, each most recent first.
func (c *Composer) zoneSequence(r analysis.Result) (Signal, bool) {
	bias := SequenceBias(r.Window, c.cfg.SequenceWindow)
	if bias.Direction == analysis.Neutral {
		return Signal{}, false
	}

	for _, status := range []analysis.ZoneStatus{analysis.ZoneActive, analysis.ZoneInversed} {
		for i := range r.Zones {
			z := r.Zones[i]
			if z.Status != status {
				continue
			}
			if math.Abs(r.Price-z.CE)/r.Price > c.cfg.ZoneTolerance {
				continue
			}

			dir := Long
			far := z.Bottom
			if z.Role() == analysis.Supply {
				dir = Short
				far = z.Top
			}
			if FromMarket(bias.Direction) != dir {
				continue
			}

			conf := c.cfg.ZoneConfidence + math.Round(c.cfg.ZoneBonus*math.Min(1, bias.Strength))
			rr := c.cfg.ZoneActiveRR
			if status == analysis.ZoneInversed {
				rr = c.cfg.ZoneInversedRR
			}
			reason := fmt.Sprintf("%s %s %s at CE %.4f with %d/%d sequence", status, z.Kind, z.Subtype, z.CE, max(bias.Bull, bias.Bear), bias.Window)
			sig, ok := c.build(dir, SetupZoneSequence, conf, r.Price, c.stopBeyond(dir, far), rr, reason)
			if !ok {
				continue
			}
			sig.Zone = &z
			return sig, true
		}
	}
	return Signal{}, false
}

// trend: dominant long window bias not contradicted by the medium window,
// and RSI not already extreme in that direction
func (c *Composer) trend(r analysis.Result) (Signal, bool) {
	if len(r.Window) < c.cfg.TrendWindow {
		return Signal{}, false
	}
	long := SequenceBias(r.Window, c.cfg.TrendWindow)
	medium := SequenceBias(r.Window, c.cfg.SequenceWindow)

	dom := long.Dominant()
	if dom == analysis.Neutral || medium.Direction == dom.Opposite() {
		return Signal{}, false
	}

	dir := FromMarket(dom)
	rsi := r.Indicators.RSI
	if dir == Long && rsi >= c.cfg.RSIOverbought {
		return Signal{}, false
	}
	if dir == Short && rsi <= c.cfg.RSIOversold {
		return Signal{}, false
	}

	recent := r.Window[len(r.Window)-c.cfg.TrendWindow:]
	stop := swingExtreme(recent, dir)
	reason := fmt.Sprintf("%d-bar %s trend, RSI %.1f", c.cfg.TrendWindow, dom, rsi)
	return c.build(dir, SetupTrend, c.cfg.TrendConfidence, r.Price, stop, c.cfg.TrendRR, reason)
}

func swingExtreme(cs []candles.Candle, dir Direction) float64 {
	ext := cs[0].Low
	if dir == Short {
		ext = cs[0].High
	}
	for _, c := range cs[1:] {
		if dir == Long {
			ext = math.Min(ext, c.Low)
		} else {
			ext = math.Max(ext, c.High)
		}
	}
	return ext
}
