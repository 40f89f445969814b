package session

import (
	"fmt"
	"regexp"
	"strings"

	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/lifecycle"
)

// CommandType names an operator command
type CommandType string

const (
	CmdChangePair        CommandType = "changePair"
	CmdChangeInterval    CommandType = "changeInterval"
	CmdToggleAutoTrading CommandType = "toggleAutoTrading"
	CmdManualClose       CommandType = "manualClose"
	CmdUpdateSettings    CommandType = "updateSettings"
	CmdResetHalt         CommandType = "resetHalt"
	CmdStop              CommandType = "stop" // close, disable auto-trading, reset stats
)

var pairPattern = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)

// Command is an operator request. Only the fields used by Type are read.
type Command struct {
	Type     CommandType         `json:"type" binding:"required"`
	Pair     string              `json:"pair,omitempty"`
	Interval string              `json:"interval,omitempty"`
	Enabled  *bool               `json:"enabled,omitempty"` // nil toggles
	Settings *lifecycle.Settings `json:"settings,omitempty"`
}

// CommandResult is the outcome of an applied command
type CommandResult struct {
	Type    CommandType `json:"type"`
	OK      bool        `json:"ok"`
	Changed bool        `json:"changed"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Normalize upper-cases the pair and lower-cases the interval
func (c Command) Normalize() Command {
	c.Pair = strings.ToUpper(strings.TrimSpace(c.Pair))
	c.Interval = strings.TrimSpace(c.Interval)
	return c
}

// Validate checks the command before anything is mutated. Errors match
// errs.ErrInvalidCommand, or are a ConfigError for bad settings.
func (c Command) Validate() error {
	switch c.Type {
	case CmdChangePair:
		if !pairPattern.MatchString(c.Pair) {
			return fmt.Errorf("%w: pair %q", errs.ErrInvalidCommand, c.Pair)
		}
	case CmdChangeInterval:
		if !binance.ValidInterval(c.Interval) {
			return fmt.Errorf("%w: interval %q", errs.ErrInvalidCommand, c.Interval)
		}
	case CmdUpdateSettings:
		if c.Settings == nil {
			return fmt.Errorf("%w: settings required", errs.ErrInvalidCommand)
		}
		return c.Settings.Validate()
	case CmdToggleAutoTrading, CmdManualClose, CmdResetHalt, CmdStop:
	default:
		return fmt.Errorf("%w: unknown type %q", errs.ErrInvalidCommand, c.Type)
	}
	return nil
}

func failed(t CommandType, err error) CommandResult {
	return CommandResult{Type: t, Error: err.Error()}
}

func applied(t CommandType, changed bool, format string, args ...interface{}) CommandResult {
	return CommandResult{Type: t, OK: true, Changed: changed, Message: fmt.Sprintf(format, args...)}
}
