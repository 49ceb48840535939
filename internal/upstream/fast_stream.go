package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-analytics/internal/domain"
)

// Tick is one streamed fast price.
type Tick struct {
	ChainID int64
	Token   string
	Price   float64
	T       int64
}

// StreamConfig configures the websocket stream.
type StreamConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultStreamConfig returns default websocket settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// FastPriceStream subscribes to keeper fast prices over a websocket.
type FastPriceStream struct {
	endpoint string
	cfg      StreamConfig
	logger   *zap.Logger
}

// NewFastPriceStream creates a stream. Nothing is dialed until Run.
func NewFastPriceStream(endpoint string, cfg StreamConfig, logger *zap.Logger) *FastPriceStream {
	return &FastPriceStream{endpoint: endpoint, cfg: cfg, logger: logger.Named("fast_stream")}
}

type subscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type priceMessage struct {
	ChainID   int64  `json:"chainId"`
	Token     string `json:"token"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// Run streams ticks into out until ctx is done, reconnecting with exponential delay.
// out is never closed by Run.
func (s *FastPriceStream) Run(ctx context.Context, out chan<- Tick) error {
	delay := s.cfg.ReconnectDelay
	for {
		connected, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = s.cfg.ReconnectDelay
		}
		s.logger.Warn("fast price stream disconnected", zap.Error(err), zap.Duration("reconnect_in", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (s *FastPriceStream) session(ctx context.Context, out chan<- Tick) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Channel: "prices"}); err != nil {
		return true, fmt.Errorf("write subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(sessCtx, conn)

	// Unblock ReadMessage on shutdown.
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		tick, err := parseTick(data)
		if err != nil {
			s.logger.Warn("dropping malformed tick", zap.Error(err))
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (s *FastPriceStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func parseTick(data []byte) (Tick, error) {
	var m priceMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	price, ok := domain.ParseScaled(m.Price)
	if !ok || price.Sign() <= 0 || m.Token == "" || m.Timestamp <= 0 {
		return Tick{}, fmt.Errorf("%w: tick %s", ErrMalformed, string(data))
	}
	return Tick{
		ChainID: m.ChainID,
		Token:   domain.NormalizeAddress(m.Token),
		Price:   domain.ScaledFloat(price, domain.SourceFast.Scale()),
		T:       m.Timestamp,
	}, nil
}
