package venue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	reconnectBackoff = 3 * time.Second
)

// TickHandler receives every price tick read from the stream.
type TickHandler func(tick models.Tick)

// PriceStream maintains a websocket subscription to the venue's price
// feed and delivers ticks to a handler. Connection drops trigger
// automatic reconnects with resubscription.
type PriceStream struct {
	url     string
	handler TickHandler
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	tokens map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

type subscribeMessage struct {
	Op       string   `json:"op"`
	TokenIDs []string `json:"token_ids"`
}

// NewPriceStream creates a stream client; Start opens the connection.
func NewPriceStream(url string, handler TickHandler, logger zerolog.Logger) *PriceStream {
	return &PriceStream{
		url:     url,
		handler: handler,
		logger:  logger,
		tokens:  make(map[string]struct{}),
	}
}

// Start connects and begins the read loop. The stream runs until Stop
// is called or the context is cancelled.
func (s *PriceStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		cancel()
		return err
	}
	go s.run(ctx)
	return nil
}

// Subscribe adds tokens to the feed subscription.
func (s *PriceStream) Subscribe(tokenIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tokenIDs {
		s.tokens[id] = struct{}{}
	}
	if s.conn == nil {
		return nil
	}
	return s.sendSubscribeLocked("subscribe", tokenIDs)
}

// Unsubscribe removes tokens from the feed subscription.
func (s *PriceStream) Unsubscribe(tokenIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tokenIDs {
		delete(s.tokens, id)
	}
	if s.conn == nil {
		return nil
	}
	return s.sendSubscribeLocked("unsubscribe", tokenIDs)
}

// Stop closes the connection and ends the read loop.
func (s *PriceStream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *PriceStream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return apperrors.Wrap(err, "dialing price stream")
	}
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	ids := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	var subErr error
	if len(ids) > 0 {
		subErr = s.sendSubscribeLocked("subscribe", ids)
	}
	s.mu.Unlock()

	if subErr != nil {
		conn.Close()
		return subErr
	}
	s.logger.Info().Str("url", s.url).Int("tokens", len(ids)).Msg("price stream connected")
	return nil
}

func (s *PriceStream) sendSubscribeLocked(op string, ids []string) error {
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteJSON(subscribeMessage{Op: op, TokenIDs: ids})
}

func (s *PriceStream) run(ctx context.Context) {
	defer close(s.done)

	pinger := time.NewTicker(streamPingPeriod)
	defer pinger.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				s.mu.Lock()
				conn := s.conn
				if conn != nil {
					conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
					conn.WriteMessage(websocket.PingMessage, nil)
				}
				s.mu.Unlock()
			}
		}
	}()

	for {
		if err := s.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				s.closeConn()
				return
			}
			s.logger.Warn().Err(err).Msg("price stream dropped, reconnecting")
		}

		s.closeConn()
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
		if err := s.connect(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("price stream reconnect failed")
		}
	}
}

func (s *PriceStream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return apperrors.ErrStreamClosed
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick models.Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			s.logger.Debug().Err(err).Msg("skipping malformed tick")
			continue
		}
		if tick.TokenID == "" || tick.Price <= 0 {
			continue
		}
		if s.handler != nil {
			s.handler(tick)
		}
	}
}

func (s *PriceStream) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}
