package signal

import (
	"fmt"
	"math"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/candles"
)

// Rule is a named confidence adjustment. Applies and Impact must be pure.
type Rule struct {
	Name    string
	Applies func(Signal, analysis.Result) bool
	Impact  func(Signal, analysis.Result) float64
}

// Apply runs rules in order over an actionable signal, appends one reason per
// applied rule and clamps the final confidence to [0, 100]
func Apply(sig Signal, r analysis.Result, rules []Rule) Signal {
	if !sig.IsActionable() {
		return sig
	}
	reasons := append([]string(nil), sig.Reasons...)
	for _, rule := range rules {
		if rule.Applies == nil || rule.Impact == nil || !rule.Applies(sig, r) {
			continue
		}
		delta := rule.Impact(sig, r)
		if delta == 0 || math.IsNaN(delta) {
			continue
		}
		sig.Confidence += delta
		reasons = append(reasons, fmt.Sprintf("%s %+.1f", rule.Name, delta))
	}
	sig.Reasons = reasons
	sig.Confidence = math.Max(0, math.Min(100, sig.Confidence))
	return sig
}

// DefaultRules returns the standard adjustment pipeline. scorer may be nil.
func DefaultRules(scorer Scorer) []Rule {
	rules := []Rule{
		HTFBiasAlignment(),
		CRTManipulation(),
		KillzoneSession(),
		VolumeSpike(),
		RSIExhaustion(),
	}
	if scorer != nil {
		rules = append(rules, LearnedWeight(scorer))
	}
	return rules
}

// HTFBiasAlignment rewards a strong aligned HTF body and penalizes trading against it
func HTFBiasAlignment() Rule {
	aligned := func(s Signal, r analysis.Result) bool {
		return FromMarket(r.CRT.Bias.Direction) == s.Direction
	}
	return Rule{
		Name: "htf-bias-alignment",
		Applies: func(s Signal, r analysis.Result) bool {
			if !r.CRT.Ready || r.CRT.Bias.Direction == analysis.Neutral {
				return false
			}
			return !aligned(s, r) || r.CRT.Bias.Strength == analysis.StrengthStrong
		},
		Impact: func(s Signal, r analysis.Result) float64 {
			if aligned(s, r) {
				return 3
			}
			return -5
		},
	}
}

// CRTManipulation rewards entries in the direction of a valid PCC manipulation
func CRTManipulation() Rule {
	return Rule{
		Name: "crt-manipulation",
		Applies: func(s Signal, r analysis.Result) bool {
			m := r.CRT.Manipulation
			return m != nil && m.Valid && FromMarket(m.Direction) == s.Direction
		},
		Impact: func(Signal, analysis.Result) float64 { return 3 },
	}
}

// KillzoneSession rewards the London and New York sessions
func KillzoneSession() Rule {
	return Rule{
		Name: "killzone-session",
		Applies: func(_ Signal, r analysis.Result) bool {
			return r.Session == candles.SessionLondon || r.Session == candles.SessionNewYork
		},
		Impact: func(Signal, analysis.Result) float64 { return 2 },
	}
}

// VolumeSpike rewards a bar with relative volume above 1.5
func VolumeSpike() Rule {
	return Rule{
		Name: "volume-spike",
		Applies: func(_ Signal, r analysis.Result) bool {
			return r.Indicators.VolumeRatio > 1.5
		},
		Impact: func(Signal, analysis.Result) float64 { return 2 },
	}
}

// RSIExhaustion penalizes buying above 75 or selling below 25
func RSIExhaustion() Rule {
	return Rule{
		Name: "rsi-exhaustion",
		Applies: func(s Signal, r analysis.Result) bool {
			rsi := r.Indicators.RSI
			return (s.Direction == Long && rsi > 75) || (s.Direction == Short && rsi < 25)
		},
		Impact: func(Signal, analysis.Result) float64 { return -6 },
	}
}

// LearnedWeight blends in the scorer: (confidence - 0.5) x 10 points
func LearnedWeight(scorer Scorer) Rule {
	return Rule{
		Name: "learned-weight",
		Applies: func(s Signal, _ analysis.Result) bool {
			return scorer != nil
		},
		Impact: func(s Signal, _ analysis.Result) float64 {
			conf, _ := scorer.Score(s.Features)
			if math.IsNaN(conf) {
				return 0
			}
			conf = math.Max(0, math.Min(1, conf))
			return math.Round((conf-0.5)*100*0.1*10) / 10
		},
	}
}
