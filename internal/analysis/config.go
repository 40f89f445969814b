package analysis

// Mode selects the detector parameter set
type Mode string

const (
	ModeCRT Mode = "crt"
	ModeSMC Mode = "smc"
)

// ParseMode normalizes a mode string, defaulting to CRT
func ParseMode(s string) Mode {
	if Mode(s) == ModeSMC {
		return ModeSMC
	}
	return ModeCRT
}

// Config parameterizes every detector. One implementation serves both modes.
type Config struct {
	Mode Mode `json:"mode"`

	ATRPeriod     int `json:"atrPeriod"`
	PivotLookback int `json:"pivotLookback"`

	// zones
	MinGapATR    float64 `json:"minGapAtr"`
	OrderBlocks  bool    `json:"orderBlocks"`
	MinOBATR     float64 `json:"minObAtr"`
	BodyLookback int     `json:"bodyLookback"`
	ZoneTTL      int     `json:"zoneTtl"`
	MaxFVG       int     `json:"maxFvg"`
	MaxOB        int     `json:"maxOb"`
	RelevancePct float64 `json:"relevancePct"`
	MaxSurfaced  int     `json:"maxSurfaced"`

	// sweeps and structure
	SweepLookback    int     `json:"sweepLookback"`
	PoolToleranceATR float64 `json:"poolToleranceAtr"`
	MaxEvents        int     `json:"maxEvents"`

	// CRT
	PhaseWindow      int     `json:"phaseWindow"`
	TurtleSoupWindow int     `json:"turtleSoupWindow"`
	MinWickPct       float64 `json:"minWickPct"`
	MaxWickPct       float64 `json:"maxWickPct"`
}

// DefaultConfig returns the validated parameters for mode
func DefaultConfig(mode Mode) Config {
	cfg := Config{
		Mode:             mode,
		ATRPeriod:        14,
		PivotLookback:    2,
		OrderBlocks:      true,
		MinOBATR:         0.8,
		BodyLookback:     20,
		ZoneTTL:          300,
		MaxFVG:           8,
		MaxOB:            12,
		RelevancePct:     0.05,
		MaxSurfaced:      10,
		SweepLookback:    10,
		PoolToleranceATR: 0.05,
		MaxEvents:        100,
		PhaseWindow:      20,
		TurtleSoupWindow: 30,
		MinWickPct:       0.1,
		MaxWickPct:       2.0,
	}
	if mode == ModeSMC {
		cfg.PivotLookback = 6
		cfg.MinGapATR = 0.35
	}
	return cfg
}

// withDefaults fills zero fields from the mode defaults
func (c Config) withDefaults() Config {
	d := DefaultConfig(ParseMode(string(c.Mode)))
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.PivotLookback <= 0 {
		c.PivotLookback = d.PivotLookback
	}
	if c.BodyLookback <= 0 {
		c.BodyLookback = d.BodyLookback
	}
	if c.ZoneTTL <= 0 {
		c.ZoneTTL = d.ZoneTTL
	}
	if c.MaxFVG <= 0 {
		c.MaxFVG = d.MaxFVG
	}
	if c.MaxOB <= 0 {
		c.MaxOB = d.MaxOB
	}
	if c.RelevancePct <= 0 {
		c.RelevancePct = d.RelevancePct
	}
	if c.MaxSurfaced <= 0 {
		c.MaxSurfaced = d.MaxSurfaced
	}
	if c.SweepLookback <= 0 {
		c.SweepLookback = d.SweepLookback
	}
	if c.PoolToleranceATR <= 0 {
		c.PoolToleranceATR = d.PoolToleranceATR
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.PhaseWindow <= 0 {
		c.PhaseWindow = d.PhaseWindow
	}
	if c.TurtleSoupWindow <= 5 {
		c.TurtleSoupWindow = d.TurtleSoupWindow
	}
	if c.MinWickPct <= 0 {
		c.MinWickPct = d.MinWickPct
	}
	if c.MaxWickPct <= 0 {
		c.MaxWickPct = d.MaxWickPct
	}
	return c
}
