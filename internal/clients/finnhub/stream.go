package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/marketdata/internal/domain"
)

const defaultStreamURL = "wss://ws.finnhub.io"

// QuoteSink receives live quotes pushed by the trade stream.
type QuoteSink interface {
	Put(ctx context.Context, dataType domain.DataType, key string, payload json.RawMessage, source string) error
}

// Stream maintains a websocket subscription to Finnhub trade events and
// writes the latest trade for each symbol through to the quote sink,
// keeping price entries warm without spending REST rate-limit slots.
type Stream struct {
	url     string
	apiKey  string
	symbols []string
	sink    QuoteSink
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStream creates a trade stream for the given symbols.
func NewStream(apiKey string, symbols []string, sink QuoteSink, log zerolog.Logger) *Stream {
	return &Stream{
		url:     defaultStreamURL,
		apiKey:  apiKey,
		symbols: symbols,
		sink:    sink,
		log:     log.With().Str("client", "finnhub_stream").Logger(),
	}
}

// Start launches the stream loop in a background goroutine. It reconnects
// with capped exponential backoff until Stop is called.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("stream already running")
	}
	if s.apiKey == "" {
		return fmt.Errorf("stream requires an API key")
	}
	if len(s.symbols) == 0 {
		return fmt.Errorf("stream requires at least one symbol")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)

	s.log.Info().Strs("symbols", s.symbols).Msg("Trade stream started")
	return nil
}

// Stop terminates the stream and waits for the loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info().Msg("Trade stream stopped")
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		s.log.Warn().
			Err(err).
			Dur("retry_in", backoff).
			Msg("Stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, fmt.Sprintf("%s?token=%s", s.url, s.apiKey), nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for _, symbol := range s.symbols {
		sub := map[string]string{"type": "subscribe", "symbol": symbol}
		if err := wsjson.Write(ctx, conn, sub); err != nil {
			return fmt.Errorf("subscribe %s failed: %w", symbol, err)
		}
	}

	s.log.Debug().Int("symbols", len(s.symbols)).Msg("Stream connected and subscribed")

	for {
		var msg streamMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		switch msg.Type {
		case "trade":
			s.handleTrades(ctx, msg.Data)
		case "ping":
			// Keepalive, nothing to do
		case "error":
			s.log.Warn().Str("msg", msg.Msg).Msg("Stream error message")
		}
	}
}

type streamMessage struct {
	Type string        `json:"type"`
	Msg  string        `json:"msg"`
	Data []streamTrade `json:"data"`
}

type streamTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"` // milliseconds
}

func (s *Stream) handleTrades(ctx context.Context, trades []streamTrade) {
	// Keep only the last trade per symbol from this batch
	latest := make(map[string]Quote, len(trades))
	for _, t := range trades {
		latest[t.Symbol] = Quote{
			Symbol:    t.Symbol,
			Price:     t.Price,
			Timestamp: t.Timestamp / 1000,
		}
	}

	for symbol, quote := range latest {
		payload, err := json.Marshal(quote)
		if err != nil {
			continue
		}
		if err := s.sink.Put(ctx, domain.DataTypePrice, symbol, payload, AdapterStreamSource); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to store streamed quote")
		}
	}
}

// AdapterStreamSource labels cache entries written by the trade stream.
const AdapterStreamSource = "finnhub_stream"
