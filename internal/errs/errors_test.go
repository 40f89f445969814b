package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedErrorsMatch(t *testing.T) {
	de := fmt.Errorf("append: %w", &DataError{Pair: "BTCUSDT", CloseTime: 10, Err: ErrOutOfOrder})
	if !IsData(de) {
		t.Error("Expected DataError to be detected through wrapping")
	}
	if !errors.Is(de, ErrOutOfOrder) {
		t.Error("Expected ErrOutOfOrder through DataError")
	}

	ge := fmt.Errorf("entry: %w", &GatewayError{Op: "placeEntry", Pair: "ETHUSDT", Err: errors.New("timeout")})
	if !IsGateway(ge) {
		t.Error("Expected GatewayError to be detected")
	}
	if IsGateway(de) {
		t.Error("DataError must not be reported as GatewayError")
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Field: "trading.leverage", Value: 200, Reason: "must be within [1,125]"}
	want := "invalid config trading.leverage=200: must be within [1,125]"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
