package analysis

import (
	"fmt"
	"math"

	"crt-trading-engine/internal/candles"
)

// crtTolerance is the relative price tolerance (0.01%) for marker checks
const crtTolerance = 0.0001

// minEntryRR is the reward-to-risk below which an entry draws a warning
const minEntryRR = 2.0

// CRTValidation reports the marker checks run against the HTF candles a CRT
// reading was derived from. Warnings do not make a reading invalid.
type CRTValidation struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Corrections []string `json:"corrections,omitempty"`
}

type crtValidator struct {
	v CRTValidation
}

func (cv *crtValidator) errorf(format string, args ...interface{}) {
	cv.v.Errors = append(cv.v.Errors, fmt.Sprintf(format, args...))
}

func (cv *crtValidator) correctf(format string, args ...interface{}) {
	cv.v.Corrections = append(cv.v.Corrections, fmt.Sprintf(format, args...))
}

// ValidateCRT checks crt against htf and corrects markers in place. PCC and
// the current candle are recomputed from htf when they drift; malformed
// manipulation and turtle soup readings are dropped; an entry with broken
// stop/target geometry is cleared.
func ValidateCRT(crt *CRTAnalysis, htf []candles.Candle) CRTValidation {
	cv := &crtValidator{}
	if crt == nil || !crt.Ready || len(htf) < 2 {
		cv.errorf("insufficient data")
		return cv.v
	}

	cv.checkPCC(crt, htf[len(htf)-2])
	cv.checkCurrent(crt, htf[len(htf)-1])
	cv.checkManipulation(crt)
	cv.checkTurtleSoup(crt)
	cv.checkEntry(crt)

	cv.v.Valid = len(cv.v.Errors) == 0
	return cv.v
}

func (cv *crtValidator) checkPCC(crt *CRTAnalysis, prev candles.Candle) {
	want := prev.Close
	if !finite(crt.PCC) {
		cv.errorf("pcc is not a number")
		crt.PCC = want
		cv.correctf("pcc set to %v", want)
		return
	}
	if !near(crt.PCC, want) {
		cv.errorf("pcc %v, expected %v", crt.PCC, want)
		cv.correctf("pcc %v -> %v", crt.PCC, want)
		crt.PCC = want
	}
}

func (cv *crtValidator) checkCurrent(crt *CRTAnalysis, cur candles.Candle) {
	fields := []struct {
		name string
		got  float64
		want float64
	}{
		{"open", crt.Current.Open, cur.Open},
		{"high", crt.Current.High, cur.High},
		{"low", crt.Current.Low, cur.Low},
		{"close", crt.Current.Close, cur.Close},
	}
	drift := false
	for _, f := range fields {
		if !finite(f.got) || !near(f.got, f.want) {
			cv.errorf("htf %s %v, expected %v", f.name, f.got, f.want)
			drift = true
		}
	}
	if drift || crt.Current.CloseTime != cur.CloseTime {
		crt.Current = cur
		cv.correctf("htf candle reloaded from close time %d", cur.CloseTime)
	}

	c := crt.Current
	if c.High < math.Max(c.Open, c.Close) {
		cv.errorf("htf high below open/close")
	}
	if c.Low > math.Min(c.Open, c.Close) {
		cv.errorf("htf low above open/close")
	}
}

func (cv *crtValidator) checkManipulation(crt *CRTAnalysis) {
	m := crt.Manipulation
	if m == nil {
		return
	}
	switch {
	case m.Direction != Bullish && m.Direction != Bearish:
		cv.errorf("manipulation direction %q", m.Direction)
	case !finite(m.Price) || !finite(m.WickSize):
		cv.errorf("manipulation price is not a number")
	default:
		return
	}
	crt.Manipulation = nil
	cv.correctf("manipulation dropped")
}

func (cv *crtValidator) checkTurtleSoup(crt *CRTAnalysis) {
	ts := crt.TurtleSoup
	if ts == nil {
		return
	}
	switch {
	case ts.Direction != Bullish && ts.Direction != Bearish:
		cv.errorf("turtle soup direction %q", ts.Direction)
	case !finite(ts.Price) || !finite(ts.SwingLevel) || !finite(ts.BreakPrice):
		cv.errorf("turtle soup price is not a number")
	default:
		return
	}
	crt.TurtleSoup = nil
	cv.correctf("turtle soup dropped")
}

func (cv *crtValidator) checkEntry(crt *CRTAnalysis) {
	e := crt.Entry
	if !e.HasEntry {
		return
	}
	broken := false
	if !finite(e.Entry) || !finite(e.StopLoss) || !finite(e.TakeProfit) {
		cv.errorf("entry levels are not numbers")
		broken = true
	}
	switch e.Direction {
	case Bullish:
		if e.StopLoss >= e.Entry {
			cv.errorf("long entry: stop %v not below entry %v", e.StopLoss, e.Entry)
			broken = true
		}
		if e.TakeProfit <= e.Entry {
			cv.errorf("long entry: target %v not above entry %v", e.TakeProfit, e.Entry)
			broken = true
		}
	case Bearish:
		if e.StopLoss <= e.Entry {
			cv.errorf("short entry: stop %v not above entry %v", e.StopLoss, e.Entry)
			broken = true
		}
		if e.TakeProfit >= e.Entry {
			cv.errorf("short entry: target %v not below entry %v", e.TakeProfit, e.Entry)
			broken = true
		}
	default:
		cv.errorf("entry direction %q", e.Direction)
		broken = true
	}
	if broken {
		crt.Entry = EntryZone{}
		cv.correctf("entry cleared")
		return
	}

	if risk := math.Abs(e.Entry - e.StopLoss); risk > 0 {
		if rr := math.Abs(e.TakeProfit-e.Entry) / risk; rr < minEntryRR {
			cv.v.Warnings = append(cv.v.Warnings, fmt.Sprintf("low reward/risk %.2f", rr))
		}
	}
}

func near(got, want float64) bool {
	return math.Abs(got-want) <= math.Abs(want)*crtTolerance
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
