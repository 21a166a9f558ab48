package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultStreamURL is the Wallex Socket.IO endpoint.
var DefaultStreamURL = (&url.URL{
	Scheme:   "wss",
	Host:     "api.wallex.ir",
	Path:     "/socket.io/",
	RawQuery: url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode(),
}).String()

var errStreamDown = errors.New("trade stream not connected")

// WallexTrade represents a trade message from Wallex
type WallexTrade struct {
	IsBuyOrder bool      `json:"isBuyOrder"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

// SubscribeMessage is used to subscribe to a channel via Socket.IO
// e.g. {"channel": "USDTTMN@trade"}
type SubscribeMessage struct {
	Channel string `json:"channel"`
}

// TradeStream keeps the last traded price of one symbol from the Wallex
// trade channel, reconnecting with backoff until its context ends.
type TradeStream struct {
	url    string
	symbol string
	maxAge time.Duration
	log    zerolog.Logger

	mu        sync.RWMutex
	lastPrice float64
	lastAt    time.Time
	connected bool
	healthErr error
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTradeStream creates a stream for symbol. Prices older than maxAge are reported as stale.
func NewTradeStream(streamURL, symbol string, maxAge time.Duration, logger zerolog.Logger) *TradeStream {
	return &TradeStream{
		url:    streamURL,
		symbol: NormalizeSymbol(symbol),
		maxAge: maxAge,
		log:    logger.With().Str("component", "trade_stream").Str("symbol", NormalizeSymbol(symbol)).Logger(),
	}
}

func (s *TradeStream) Symbol() string { return s.symbol }

func (s *TradeStream) channel() string { return s.symbol + "@trade" }

// Start connects in the background. Calling Start twice is a no-op.
func (s *TradeStream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		retryDelay := time.Second
		for {
			err := s.connectAndStream(ctx)
			if ctx.Err() != nil {
				return
			}
			s.setState(false, err)
			s.log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("disconnected")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			retryDelay = min(retryDelay*2, 60*time.Second)
		}
	}()
}

// Close stops the stream and waits for the connection to shut down.
func (s *TradeStream) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LastPrice returns the latest traded price if it is fresher than maxAge.
func (s *TradeStream) LastPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAt.IsZero() || time.Since(s.lastAt) > s.maxAge {
		return 0, false
	}
	return s.lastPrice, true
}

// IsConnected returns true if the websocket is connected
func (s *TradeStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Health returns nil while connected, otherwise the last connection error.
func (s *TradeStream) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.connected:
		return nil
	case s.healthErr != nil:
		return s.healthErr
	default:
		return errStreamDown
	}
}

func (s *TradeStream) setState(connected bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.healthErr = err
}

func (s *TradeStream) update(trade WallexTrade) {
	price, err := strconv.ParseFloat(trade.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = price
	s.lastAt = time.Now()
}

// connectAndStream handles a single websocket connection session
func (s *TradeStream) connectAndStream(ctx context.Context) error {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	// Socket.IO connect
	if err := c.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		return err
	}
	s.setState(true, nil)
	s.log.Info().Msg("connection established")

	subscribed := false
	for {
		if err := c.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			return err
		}
		_, message, err := c.ReadMessage()
		if err != nil {
			return err
		}
		msg := string(message)
		switch {
		case msg == "2":
			// Engine.IO ping
			if err := c.WriteMessage(websocket.TextMessage, []byte("3")); err != nil {
				return err
			}
		case strings.HasPrefix(msg, "40") && !subscribed:
			sub, err := json.Marshal(SubscribeMessage{Channel: s.channel()})
			if err != nil {
				return err
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`42["subscribe",%s]`, sub))); err != nil {
				return err
			}
			subscribed = true
			s.log.Info().Str("channel", s.channel()).Msg("subscribed")
		case strings.HasPrefix(msg, "42"):
			if trade, ok := s.parseTrade(msg[2:]); ok {
				s.update(trade)
			}
		}
	}
}

// parseTrade decodes a Broadcaster event of the form ["Broadcaster","SYMBOL@trade",{...}].
func (s *TradeStream) parseTrade(payload string) (WallexTrade, bool) {
	var event []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &event); err != nil || len(event) < 3 {
		return WallexTrade{}, false
	}
	var name, channel string
	if json.Unmarshal(event[0], &name) != nil || name != "Broadcaster" {
		return WallexTrade{}, false
	}
	if json.Unmarshal(event[1], &channel) != nil || channel != s.channel() {
		return WallexTrade{}, false
	}
	var trade WallexTrade
	if err := json.Unmarshal(event[2], &trade); err != nil {
		return WallexTrade{}, false
	}
	return trade, true
}
