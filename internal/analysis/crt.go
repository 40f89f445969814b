package analysis

import (
	"math"
	"time"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/indicators"
)

// Quadrant is the position of price inside the higher timeframe range
type Quadrant string

const (
	QuadrantDiscount Quadrant = "Q1_DISCOUNT"
	QuadrantLower    Quadrant = "Q2_LOWER"
	QuadrantUpper    Quadrant = "Q3_UPPER"
	QuadrantPremium  Quadrant = "Q4_PREMIUM"
)

// Phase of the higher timeframe candle
type Phase string

const (
	PhaseUnknown       Phase = "UNKNOWN"
	PhaseConsolidation Phase = "CONSOLIDATION"
	PhaseManipulation  Phase = "MANIPULATION"
	PhaseDistribution  Phase = "DISTRIBUTION"
	PhaseExhaustion    Phase = "EXHAUSTION"
	PhaseTransition    Phase = "TRANSITION"
)

// Strength buckets the HTF body-to-range ratio
type Strength string

const (
	StrengthStrong Strength = "STRONG"
	StrengthMedium Strength = "MEDIUM"
	StrengthWeak   Strength = "WEAK"
)

// Quadrants divides the HTF range into four equal bands
type Quadrants struct {
	High    float64  `json:"high"`
	Q75     float64  `json:"q75"`
	Q50     float64  `json:"q50"`
	Q25     float64  `json:"q25"`
	Low     float64  `json:"low"`
	Current Quadrant `json:"current"`
}

// PhaseReading is a phase with its confidence
type PhaseReading struct {
	Phase      Phase   `json:"phase"`
	Confidence float64 `json:"confidence"`
	Volatility float64 `json:"volatility"`
}

// Manipulation is an LTF excursion beyond PCC against the HTF body
type Manipulation struct {
	Direction   Direction `json:"direction"`
	PCC         float64   `json:"pcc"`
	Price       float64   `json:"price"`
	WickSize    float64   `json:"wickSize"`
	WickPercent float64   `json:"wickPercent"`
	Valid       bool      `json:"valid"`
}

// TurtleSoup is a break of a recent swing extreme that closed back inside
type TurtleSoup struct {
	Direction  Direction `json:"direction"`
	SwingLevel float64   `json:"swingLevel"`
	BreakPrice float64   `json:"breakPrice"`
	Price      float64   `json:"price"`
}

// Bias is the HTF candle body direction and strength
type Bias struct {
	Direction   Direction `json:"direction"`
	Strength    Strength  `json:"strength"`
	BodyPercent float64   `json:"bodyPercent"`
}

// EntryZone is the CRT entry suggestion derived from a valid manipulation
type EntryZone struct {
	HasEntry   bool      `json:"hasEntry"`
	Direction  Direction `json:"direction,omitempty"`
	Entry      float64   `json:"entry,omitempty"`
	StopLoss   float64   `json:"stopLoss,omitempty"`
	TakeProfit float64   `json:"takeProfit,omitempty"`
	Quadrant   Quadrant  `json:"quadrant,omitempty"`
}

// CRTAnalysis is the candle range theory reading of the current HTF candle
type CRTAnalysis struct {
	Ready        bool           `json:"ready"`
	PCC          float64        `json:"pcc"`
	Current      candles.Candle `json:"current"`
	Quadrants    Quadrants      `json:"quadrants"`
	Phase        PhaseReading   `json:"phase"`
	Manipulation *Manipulation  `json:"manipulation,omitempty"`
	TurtleSoup   *TurtleSoup    `json:"turtleSoup,omitempty"`
	Bias         Bias           `json:"bias"`
	Entry        EntryZone      `json:"entry"`
	Validation   CRTValidation  `json:"validation"`
}

// CRTDetector reads the HTF candle anatomy against LTF price
type CRTDetector struct {
	cfg Config
}

// NewCRTDetector creates a detector
func NewCRTDetector(cfg Config) *CRTDetector {
	return &CRTDetector{cfg: cfg.withDefaults()}
}

// Analyze returns an empty reading when fewer than two HTF candles exist
func (d *CRTDetector) Analyze(ltf, htf []candles.Candle, now time.Time) CRTAnalysis {
	if len(htf) < 2 || len(ltf) == 0 {
		return CRTAnalysis{Phase: PhaseReading{Phase: PhaseUnknown}}
	}

	cur := htf[len(htf)-1]
	pcc := htf[len(htf)-2].Close
	price := ltf[len(ltf)-1].Close

	res := CRTAnalysis{
		Ready:      true,
		PCC:        pcc,
		Current:    cur,
		Quadrants:  quadrants(cur, price),
		Phase:      d.phase(cur, ltf, now),
		TurtleSoup: d.turtleSoup(ltf),
		Bias:       bias(cur),
	}
	res.Manipulation = d.manipulation(cur, pcc, price)
	res.Entry = entryZone(res.Manipulation, res.Quadrants, price)
	return res
}

func quadrants(htf candles.Candle, price float64) Quadrants {
	rng := htf.Range()
	q := Quadrants{
		High: htf.High,
		Q75:  htf.High - rng*0.25,
		Q50:  htf.Low + rng*0.5,
		Q25:  htf.Low + rng*0.25,
		Low:  htf.Low,
	}
	pos := 0.5
	if rng > 0 {
		pos = (price - htf.Low) / rng
	}
	switch {
	case pos > 0.75:
		q.Current = QuadrantPremium
	case pos > 0.5:
		q.Current = QuadrantUpper
	case pos > 0.25:
		q.Current = QuadrantLower
	default:
		q.Current = QuadrantDiscount
	}
	return q
}

func (d *CRTDetector) phase(htf candles.Candle, ltf []candles.Candle, now time.Time) PhaseReading {
	if len(ltf) < d.cfg.PhaseWindow {
		return PhaseReading{Phase: PhaseUnknown}
	}
	recent := ltf[len(ltf)-d.cfg.PhaseWindow:]
	vol := indicators.VolatilityRatio(recent)

	ltfUp := recent[len(recent)-1].Close > recent[0].Close
	against := htf.IsBullish() != ltfUp

	switch {
	case vol < 0.5:
		return PhaseReading{Phase: PhaseConsolidation, Confidence: 0.8, Volatility: vol}
	case against && vol > 0.7:
		return PhaseReading{Phase: PhaseManipulation, Confidence: 0.85, Volatility: vol}
	case !against && vol > 1.0:
		return PhaseReading{Phase: PhaseDistribution, Confidence: 0.9, Volatility: vol}
	case progress(htf, now) > 0.9:
		return PhaseReading{Phase: PhaseExhaustion, Confidence: 0.75, Volatility: vol}
	}
	return PhaseReading{Phase: PhaseTransition, Confidence: 0.5, Volatility: vol}
}

// progress is the elapsed fraction of the HTF candle at now
func progress(htf candles.Candle, now time.Time) float64 {
	span := htf.CloseTime + 1 - htf.OpenTime
	if span <= 0 {
		return 0
	}
	p := float64(now.UnixMilli()-htf.OpenTime) / float64(span)
	return math.Max(0, math.Min(1, p))
}

func (d *CRTDetector) manipulation(htf candles.Candle, pcc, price float64) *Manipulation {
	if pcc <= 0 {
		return nil
	}
	var m *Manipulation
	switch {
	case htf.IsBullish() && price < pcc:
		m = &Manipulation{Direction: Bullish, WickSize: pcc - price}
	case htf.IsBearish() && price > pcc:
		m = &Manipulation{Direction: Bearish, WickSize: price - pcc}
	default:
		return nil
	}
	m.PCC = pcc
	m.Price = price
	m.WickPercent = m.WickSize / pcc * 100
	m.Valid = m.WickPercent > d.cfg.MinWickPct && m.WickPercent < d.cfg.MaxWickPct
	return m
}

func (d *CRTDetector) turtleSoup(ltf []candles.Candle) *TurtleSoup {
	w := d.cfg.TurtleSoupWindow
	if len(ltf) < w {
		return nil
	}
	recent := ltf[len(ltf)-w:]
	head, tail := recent[:w-5], recent[w-5:]

	swingHigh, swingLow := head[0].High, head[0].Low
	for _, c := range head[1:] {
		swingHigh = math.Max(swingHigh, c.High)
		swingLow = math.Min(swingLow, c.Low)
	}
	lowest, highest := tail[0].Low, tail[0].High
	for _, c := range tail[1:] {
		lowest = math.Min(lowest, c.Low)
		highest = math.Max(highest, c.High)
	}
	price := tail[len(tail)-1].Close

	if lowest < swingLow && price > swingLow {
		return &TurtleSoup{Direction: Bullish, SwingLevel: swingLow, BreakPrice: lowest, Price: price}
	}
	if highest > swingHigh && price < swingHigh {
		return &TurtleSoup{Direction: Bearish, SwingLevel: swingHigh, BreakPrice: highest, Price: price}
	}
	return nil
}

func bias(htf candles.Candle) Bias {
	rng := htf.Range()
	if rng <= 0 || htf.Body() == 0 {
		return Bias{Direction: Neutral, Strength: StrengthWeak}
	}
	pct := htf.Body() / rng * 100
	b := Bias{Direction: Bearish, BodyPercent: pct, Strength: StrengthWeak}
	if htf.IsBullish() {
		b.Direction = Bullish
	}
	switch {
	case pct > 60:
		b.Strength = StrengthStrong
	case pct > 40:
		b.Strength = StrengthMedium
	}
	return b
}

func entryZone(m *Manipulation, q Quadrants, price float64) EntryZone {
	if m == nil || !m.Valid {
		return EntryZone{}
	}
	if m.Direction == Bullish {
		return EntryZone{HasEntry: true, Direction: Bullish, Entry: price, StopLoss: price - m.WickSize*0.5, TakeProfit: q.Q75, Quadrant: q.Current}
	}
	return EntryZone{HasEntry: true, Direction: Bearish, Entry: price, StopLoss: price + m.WickSize*0.5, TakeProfit: q.Q25, Quadrant: q.Current}
}
