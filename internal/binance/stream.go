package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"crt-trading-engine/internal/logging"
)

const (
	// FuturesStreamURL is the production futures market stream endpoint
	FuturesStreamURL = "wss://fstream.binance.com"
	// FuturesTestnetStreamURL is the testnet futures market stream endpoint
	FuturesTestnetStreamURL = "wss://stream.binancefuture.com"
)

// StreamConfig configures reconnect behaviour
type StreamConfig struct {
	BaseURL        string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ReadTimeout    time.Duration
	Buffer         int
}

// DefaultStreamConfig returns production settings
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BaseURL:        FuturesStreamURL,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		ReadTimeout:    90 * time.Second,
		Buffer:         64,
	}
}

// KlineStream subscribes to kline websocket streams and reconnects with
// exponential backoff until the subscription context is cancelled
type KlineStream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
}

// NewKlineStream creates a stream client
func NewKlineStream(cfg StreamConfig) *KlineStream {
	def := DefaultStreamConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	return &KlineStream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// connFSM enforces Disconnected -> Connecting -> Connected -> Disconnected
type connFSM struct {
	state ConnState
}

func (f *connFSM) to(next ConnState) bool {
	switch {
	case f.state == next:
		return false
	case next == StateConnecting && f.state != StateDisconnected:
		return false
	case next == StateConnected && f.state != StateConnecting:
		return false
	}
	f.state = next
	return true
}

// Subscribe starts streaming pair/interval. The returned channel carries
// candles and state changes and is closed after ctx is cancelled.
func (s *KlineStream) Subscribe(ctx context.Context, pair, interval string) (<-chan StreamEvent, error) {
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	out := make(chan StreamEvent, s.cfg.Buffer)
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/ws/" + streamName(pair, interval)
	go s.run(ctx, pair, interval, url, out)
	return out, nil
}

func (s *KlineStream) run(ctx context.Context, pair, interval, url string, out chan<- StreamEvent) {
	defer close(out)
	logger := logging.StreamContext(pair, interval)
	fsm := &connFSM{state: StateDisconnected}

	emit := func(ev StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	transition := func(next ConnState, err error) bool {
		if !fsm.to(next) {
			return true
		}
		return emit(StreamEvent{State: next, Err: err})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		if ctx.Err() != nil {
			return
		}
		if !transition(StateConnecting, nil) {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, url, nil)
		if err == nil {
			b.Reset()
			if !transition(StateConnected, nil) {
				conn.Close()
				return
			}
			logger.Info("Kline stream connected")
			err = s.readLoop(ctx, conn, pair, emit)
			conn.Close()
		}
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		logger.Warn("Kline stream disconnected", "error", fmt.Sprint(err), "retryIn", wait.String())
		if !transition(StateDisconnected, err) {
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// klineMessage is the futures kline stream payload
type klineMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn, pair string, emit func(StreamEvent) bool) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var msg klineMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.EventType != "kline" {
			continue
		}
		if !strings.EqualFold(msg.Symbol, pair) {
			continue
		}
		k := msg.Kline
		c, err := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			continue
		}
		c.Closed = k.Closed
		if !emit(StreamEvent{Candle: &c}) {
			return ctx.Err()
		}
	}
}
