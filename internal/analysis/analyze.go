// Package analysis runs the zone, sweep, structure and CRT detectors over a
// candle window. Analyze is pure: the same input always yields the same result,
// so it can be evaluated on any goroutine.
package analysis

import (
	"math"
	"time"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/indicators"
)

// Input is one analysis request
type Input struct {
	Pair      string           `json:"pair"`
	Candles   []candles.Candle `json:"candles"`
	BaseIndex int64            `json:"baseIndex"`
	HTF       []candles.Candle `json:"htf"` // may end with the forming candle
	Now       time.Time        `json:"now"`
	Config    Config           `json:"config"`
	EMAPeriod int              `json:"emaPeriod"`
}

// FeatureScore is the additive setup quality score (0..80)
type FeatureScore struct {
	Score         int      `json:"score"`
	MomentumRate  float64  `json:"momentumRate"`
	VolumeRatio   float64  `json:"volumeRatio"`
	CandleQuality float64  `json:"candleQuality"`
	RecentBOS     bool     `json:"recentBos"`
	InHTFZone     bool     `json:"inHtfZone"`
	Reasons       []string `json:"reasons"`
}

// Result is the full detector output for one window
type Result struct {
	Pair        string              `json:"pair"`
	Mode        Mode                `json:"mode"`
	CloseTime   int64               `json:"closeTime"`
	LastIndex   int64               `json:"lastIndex"`
	Price       float64             `json:"price"`
	Session     string              `json:"session"`
	Indicators  indicators.Snapshot `json:"indicators"`
	Zones       []Zone              `json:"zones"`
	ActiveZones int                 `json:"activeZones"`
	Expired     int                 `json:"expiredZones"`
	Sweep       *SweepEvent         `json:"sweep,omitempty"`
	Structure   StructureResult     `json:"structure"`
	CRT         CRTAnalysis         `json:"crt"`
	HTFZones    []Zone              `json:"htfZones"`
	InHTFZone   *Zone               `json:"inHtfZone,omitempty"`
	Features    FeatureScore        `json:"features"`
	Window      []candles.Candle    `json:"-"`
}

// Analyze evaluates every detector over in.Candles. A short or empty window
// produces a neutral result, never an error.
func Analyze(in Input) Result {
	cfg := in.Config.withDefaults()
	cs := in.Candles
	res := Result{
		Pair:       in.Pair,
		Mode:       cfg.Mode,
		Indicators: indicators.Compute(cs, in.EMAPeriod),
		Structure:  StructureResult{Trend: Neutral},
		CRT:        CRTAnalysis{Phase: PhaseReading{Phase: PhaseUnknown}},
		Window:     cs,
	}
	if len(cs) == 0 {
		return res
	}

	last := cs[len(cs)-1]
	res.CloseTime = last.CloseTime
	res.LastIndex = in.BaseIndex + int64(len(cs)-1)
	res.Price = last.Close
	res.Session = candles.MarketSession(last.CloseAt())

	res.Structure = NewStructureDetector(cfg).Detect(cs, in.BaseIndex)
	zones := NewZoneDetector(cfg).Detect(cs, in.BaseIndex, res.Structure.Events)
	for _, z := range zones {
		switch z.Status {
		case ZoneActive:
			res.ActiveZones++
		case ZoneExpired:
			res.Expired++
		}
	}
	res.Zones = Surface(zones, res.Price, cfg.RelevancePct, cfg.MaxSurfaced)
	res.Sweep = NewSweepDetector(cfg).Detect(cs, in.BaseIndex)

	now := in.Now
	if now.IsZero() {
		now = last.CloseAt()
	}
	// CRT reads the forming HTF candle against the previous close
	res.CRT = NewCRTDetector(cfg).Analyze(cs, in.HTF, now)
	res.CRT.Validation = ValidateCRT(&res.CRT, in.HTF)

	if htf := closedOnly(in.HTF); len(htf) >= 3 {
		htfCfg := cfg
		htfCfg.PivotLookback = 2
		htfCfg.MinGapATR = 0
		htfStruct := NewStructureDetector(htfCfg).Detect(htf, 0)
		htfZones := NewZoneDetector(htfCfg).Detect(htf, 0, htfStruct.Events)
		res.HTFZones = Surface(htfZones, res.Price, cfg.RelevancePct*2, cfg.MaxSurfaced)
		for i := range res.HTFZones {
			if res.HTFZones[i].Contains(res.Price) {
				z := res.HTFZones[i]
				res.InHTFZone = &z
				break
			}
		}
	}

	res.Features = score(res)
	return res
}

func closedOnly(cs []candles.Candle) []candles.Candle {
	if n := len(cs); n > 0 && !cs[n-1].Closed {
		return cs[:n-1]
	}
	return cs
}

// score is the additive feature score: momentum, volume, candle quality,
// recent structure break, HTF zone
func score(r Result) FeatureScore {
	f := FeatureScore{
		MomentumRate:  r.Indicators.MomentumRate,
		VolumeRatio:   r.Indicators.VolumeRatio,
		CandleQuality: r.Indicators.BodyRatio,
		InHTFZone:     r.InHTFZone != nil,
	}
	if ev, ok := r.Structure.LastEvent(); ok && r.LastIndex-ev.Index < 5 {
		f.RecentBOS = true
	}

	if math.Abs(f.MomentumRate) > 1.5 {
		f.Score += 20
		f.Reasons = append(f.Reasons, "momentum")
	}
	if f.VolumeRatio > 1.5 {
		f.Score += 20
		f.Reasons = append(f.Reasons, "volume")
	}
	if f.CandleQuality > 0.7 {
		f.Score += 10
		f.Reasons = append(f.Reasons, "candle-quality")
	}
	if f.RecentBOS {
		f.Score += 15
		f.Reasons = append(f.Reasons, "structure-break")
	}
	if f.InHTFZone {
		f.Score += 15
		f.Reasons = append(f.Reasons, "htf-zone")
	}
	return f
}
