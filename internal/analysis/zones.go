package analysis

import (
	"math"
	"sort"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/indicators"
)

// ZoneKind is the role of a zone
type ZoneKind string

const (
	Demand ZoneKind = "DEMAND"
	Supply ZoneKind = "SUPPLY"
)

// Opposite returns the flipped role
func (k ZoneKind) Opposite() ZoneKind {
	if k == Demand {
		return Supply
	}
	return Demand
}

// ZoneSubtype is what produced the zone
type ZoneSubtype string

const (
	FairValueGap ZoneSubtype = "FVG"
	OrderBlock   ZoneSubtype = "OB"
)

// ZoneStatus is the lifecycle state of a zone
type ZoneStatus string

const (
	ZoneActive   ZoneStatus = "ACTIVE"
	ZoneInversed ZoneStatus = "INVERSED"
	ZoneExpired  ZoneStatus = "EXPIRED"
)

// Zone is a price band of interest. Top >= Bottom always holds.
type Zone struct {
	Kind            ZoneKind    `json:"kind"`
	Subtype         ZoneSubtype `json:"subtype"`
	Top             float64     `json:"top"`
	Bottom          float64     `json:"bottom"`
	CE              float64     `json:"ce"`
	CreatedAtIndex  int64       `json:"createdAtIndex"`
	CreatedAt       int64       `json:"createdAt"`
	Status          ZoneStatus  `json:"status"`
	InversedAtIndex int64       `json:"inversedAtIndex,omitempty"`
	ExpiredAtIndex  int64       `json:"expiredAtIndex,omitempty"`
	Session         string      `json:"session"`
}

func newZone(kind ZoneKind, sub ZoneSubtype, a, b float64, idx int64, c candles.Candle) Zone {
	top, bottom := math.Max(a, b), math.Min(a, b)
	return Zone{
		Kind:           kind,
		Subtype:        sub,
		Top:            top,
		Bottom:         bottom,
		CE:             (top + bottom) / 2,
		CreatedAtIndex: idx,
		CreatedAt:      c.CloseTime,
		Status:         ZoneActive,
		Session:        candles.MarketSession(c.CloseAt()),
	}
}

// Role is the zone's acting polarity: an inversed zone acts with the opposite role
func (z Zone) Role() ZoneKind {
	if z.Status == ZoneInversed {
		return z.Kind.Opposite()
	}
	return z.Kind
}

// Contains reports whether price lies inside the band
func (z Zone) Contains(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

// Size returns the band height
func (z Zone) Size() float64 { return z.Top - z.Bottom }

// breached: a close strictly beyond the far boundary
func (z Zone) breached(close float64) bool {
	if z.Kind == Demand {
		return close < z.Bottom
	}
	return close > z.Top
}

// ZoneDetector finds fair value gaps and order blocks and tracks their lifecycle
type ZoneDetector struct {
	cfg Config
}

// NewZoneDetector creates a detector
func NewZoneDetector(cfg Config) *ZoneDetector {
	return &ZoneDetector{cfg: cfg.withDefaults()}
}

// Detect replays zone creation, inversion and expiry over the window and
// returns every zone created in it, in creation order, with its final status.
// Zones past the TTL or evicted by max-keep are tagged Expired and no longer
// change. base is the absolute index of cs[0]; breaks are structure events
// used to anchor order blocks.
func (d *ZoneDetector) Detect(cs []candles.Candle, base int64, breaks []StructureEvent) []Zone {
	breakAt := make(map[int64]StructureEvent, len(breaks))
	for _, e := range breaks {
		breakAt[e.Index] = e
	}
	usedOB := make(map[int64]bool)

	var zones []Zone
	for k := range cs {
		abs := base + int64(k)
		c := cs[k]

		for i := range zones {
			z := &zones[i]
			switch {
			case z.Status == ZoneExpired:
			case abs-z.CreatedAtIndex > int64(d.cfg.ZoneTTL):
				z.expire(abs)
			case z.Status == ZoneActive && z.breached(c.Close):
				z.Status = ZoneInversed
				z.InversedAtIndex = abs
			}
		}

		atr := 0.0
		if d.cfg.MinGapATR > 0 || d.cfg.OrderBlocks {
			atr = indicators.ATR(cs[:k+1], d.cfg.ATRPeriod)
		}

		if k >= 2 {
			first := cs[k-2]
			minGap := d.cfg.MinGapATR * atr
			if first.High < c.Low && c.Low-first.High >= minGap {
				zones = d.add(zones, newZone(Demand, FairValueGap, c.Low, first.High, abs, c))
			}
			if first.Low > c.High && first.Low-c.High >= minGap {
				zones = d.add(zones, newZone(Supply, FairValueGap, first.Low, c.High, abs, c))
			}
		}

		if ev, ok := breakAt[abs]; ok && d.cfg.OrderBlocks {
			if j := d.originCandle(cs, k, ev.Direction, atr); j >= 0 && !usedOB[base+int64(j)] {
				usedOB[base+int64(j)] = true
				oc := cs[j]
				if ev.Direction == Bullish {
					zones = d.add(zones, newZone(Demand, OrderBlock, oc.BodyTop(), oc.Low, abs, c))
				} else {
					zones = d.add(zones, newZone(Supply, OrderBlock, oc.High, oc.BodyBottom(), abs, c))
				}
			}
		}
	}
	return zones
}

// originCandle returns the local index of the last opposite candle before k
// with a body of at least MinOBATR x ATR, or -1
func (d *ZoneDetector) originCandle(cs []candles.Candle, k int, dir Direction, atr float64) int {
	minBody := d.cfg.MinOBATR * atr
	for j := k - 1; j >= 0 && j >= k-d.cfg.BodyLookback; j-- {
		c := cs[j]
		opposite := (dir == Bullish && c.IsBearish()) || (dir == Bearish && c.IsBullish())
		if !opposite {
			continue
		}
		if c.Body() >= minBody {
			return j
		}
		return -1
	}
	return -1
}

func (z *Zone) expire(idx int64) {
	z.Status = ZoneExpired
	z.ExpiredAtIndex = idx
}

// add appends z and expires the oldest live zones of the same subtype over max-keep
func (d *ZoneDetector) add(zones []Zone, z Zone) []Zone {
	zones = append(zones, z)
	limit := d.cfg.MaxFVG
	if z.Subtype == OrderBlock {
		limit = d.cfg.MaxOB
	}
	count := 0
	for _, x := range zones {
		if x.Subtype == z.Subtype && x.Status != ZoneExpired {
			count++
		}
	}
	for i := range zones {
		if count <= limit {
			break
		}
		if x := &zones[i]; x.Subtype == z.Subtype && x.Status != ZoneExpired {
			x.expire(z.CreatedAtIndex)
			count--
		}
	}
	return zones
}

// Live returns the Active and Inversed zones of zones, in order
func Live(zones []Zone) []Zone {
	var out []Zone
	for _, z := range zones {
		if z.Status != ZoneExpired {
			out = append(out, z)
		}
	}
	return out
}

// Surface applies the relevance filter: zones whose CE lies within pct of
// price, most recent first, capped at max.
func Surface(zones []Zone, price, pct float64, max int) []Zone {
	if price <= 0 {
		return nil
	}
	var out []Zone
	for _, z := range zones {
		if z.Status == ZoneExpired {
			continue
		}
		if math.Abs(z.CE-price)/price <= pct {
			out = append(out, z)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtIndex > out[j].CreatedAtIndex
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
