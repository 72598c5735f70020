package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const createSessionQuery = "v1/broker.oms/createSession"

// OrderEvent is an order status change pushed by the ledger OMS.
type OrderEvent struct {
	OrderID    int64  `json:"orderId"`
	Status     string `json:"status"`
	Instrument string `json:"instrument,omitempty"`
	AccountID  int64  `json:"accountId,omitempty"`
}

type streamMessage struct {
	Q   string          `json:"q"`
	SID int64           `json:"sid"`
	D   json.RawMessage `json:"d"`
}

// OrderEventHandler processes one event. Errors are logged and the stream continues.
type OrderEventHandler func(ctx context.Context, ev OrderEvent) error

// LedgerStream consumes the ledger OMS websocket.
type LedgerStream struct {
	url           string
	query         string
	reconnectWait time.Duration
	creds         CredentialProvider
	dialer        *websocket.Dialer
	sid           atomic.Int64
}

func NewLedgerStream(cfg Config, creds CredentialProvider) *LedgerStream {
	wait := cfg.StreamReconnectWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &LedgerStream{
		url:           cfg.LedgerWSURL,
		query:         cfg.StreamQuery,
		reconnectWait: wait,
		creds:         creds,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (s *LedgerStream) send(conn *websocket.Conn, q string, d interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	msg := streamMessage{Q: q, SID: s.sid.Add(1), D: raw}
	return conn.WriteJSON(msg)
}

// Run opens one session and delivers events to handle until ctx is done
// (returns nil) or the connection fails (returns the error).
func (s *LedgerStream) Run(ctx context.Context, handle OrderEventHandler) error {
	token, err := s.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("ledger stream credentials: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := s.send(conn, createSessionQuery, map[string]string{"token": token}); err != nil {
		return fmt.Errorf("ws create session: %w", err)
	}
	if err := s.send(conn, s.query, struct{}{}); err != nil {
		return fmt.Errorf("ws subscribe: %w", err)
	}

	log := logger.WithFields(map[string]interface{}{
		"connector": "LedgerStream",
		"query":     s.query,
	})
	log.Info("ledger stream session opened")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("ledger stream stopped")
				return nil
			}
			return fmt.Errorf("ws read failed: %w", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.WithError(err).WithField("raw", string(raw)).Warn("unparseable stream message")
			continue
		}

		var ev OrderEvent
		if len(msg.D) == 0 || json.Unmarshal(msg.D, &ev) != nil || ev.OrderID == 0 || ev.Status == "" {
			// session acks and heartbeats
			continue
		}

		if err := handle(ctx, ev); err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"order_id": ev.OrderID,
				"status":   ev.Status,
			}).Error("failed to handle order event")
		}
	}
}

// Consume keeps a session open, reconnecting after failures, until ctx is done.
func (s *LedgerStream) Consume(ctx context.Context, handle OrderEventHandler) error {
	for {
		err := s.Run(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		logger.WithError(err).Warnf("ledger stream disconnected, reconnecting in %s", s.reconnectWait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectWait):
		}
	}
}
