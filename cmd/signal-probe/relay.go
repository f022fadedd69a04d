package main

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
)

const (
	dialInitialBackoff = 200 * time.Millisecond
	dialMaxBackoff     = 2 * time.Second
	dialMaxRetries     = 5
)

// relayClient is one websocket connection to the signaling server.
type relayClient struct {
	name   string
	conn   *websocket.Conn
	events chan protocol.Message
	log    *zap.Logger

	writeMu sync.Mutex
}

// dialRelay connects to rawURL, retrying with exponential backoff while the
// server is unreachable.
func dialRelay(ctx context.Context, rawURL, name string, logger *zap.Logger) (*relayClient, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	log := logger.With(zap.String("peer", name))

	var conn *websocket.Conn
	operation := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(dialInitialBackoff),
				backoff.WithMaxInterval(dialMaxBackoff),
			),
			dialMaxRetries,
		),
		ctx,
	)
	err := backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		log.Warn("relay dial failed, retrying", zap.Error(err), zap.Duration("next", d))
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	rc := &relayClient{
		name:   name,
		conn:   conn,
		events: make(chan protocol.Message, 64),
		log:    log,
	}
	go rc.readLoop()
	return rc, nil
}

func (rc *relayClient) readLoop() {
	defer close(rc.events)
	for {
		var msg protocol.Message
		if err := rc.conn.ReadJSON(&msg); err != nil {
			return
		}
		rc.log.Debug("relay event", zap.String("event", msg.Event))
		rc.events <- msg
	}
}

func (rc *relayClient) send(event string, payload any) error {
	msg, err := protocol.New(event, payload)
	if err != nil {
		return err
	}
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	_ = rc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return rc.conn.WriteJSON(msg)
}

// await returns the next message with the given event. An error event from the
// server ends the wait early.
func (rc *relayClient) await(ctx context.Context, event string, into any) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s waiting for %s: %w", rc.name, event, ctx.Err())
		case msg, ok := <-rc.events:
			if !ok {
				return fmt.Errorf("%s: relay connection closed waiting for %s", rc.name, event)
			}
			switch msg.Event {
			case event:
				return msg.Decode(into)
			case protocol.EventError:
				var e protocol.Error
				_ = msg.Decode(&e)
				return fmt.Errorf("%s: relay error %s: %s", rc.name, e.Code, e.Message)
			}
		}
	}
}

func (rc *relayClient) close() {
	_ = rc.conn.Close()
}
