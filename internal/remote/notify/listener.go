// Package notify receives push-delivered change events from the file store
// over a websocket and hands them to the debounce queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

var (
	errMissingURL     = errors.New("notify: websocket url is required")
	errMissingHandler = errors.New("notify: event handler is required")
	noOpLogger        = zap.NewNop()
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = time.Minute
)

// ListenerConfig describes one notification subscription.
type ListenerConfig struct {
	URL         string
	AccessToken string
	Handler     func(remote.ChangeEvent)
	Logger      *zap.Logger
}

// Listener maintains a websocket subscription to the file store's change
// notifications, reconnecting with capped exponential backoff.
type Listener struct {
	url         string
	accessToken string
	handler     func(remote.ChangeEvent)
	logger      *zap.Logger
}

// NewListener validates the configuration and returns a Listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	if cfg.Handler == nil {
		return nil, errMissingHandler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Listener{
		url:         cfg.URL,
		accessToken: cfg.AccessToken,
		handler:     cfg.Handler,
		logger:      logger,
	}, nil
}

// Run blocks until the context is done, reading change events and handing
// each to the handler. Connection failures trigger reconnects.
func (l *Listener) Run(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		connected, err := l.readUntilClosed(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = initialReconnectDelay
		}
		l.logger.Warn("notification stream interrupted", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// readUntilClosed dials the stream and reads events until the connection
// fails. The returned flag reports whether the dial succeeded so the caller
// can reset its backoff.
func (l *Listener) readUntilClosed(ctx context.Context) (bool, error) {
	options := &websocket.DialOptions{}
	if l.accessToken != "" {
		options.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + l.accessToken}}
	}
	conn, _, err := websocket.Dial(ctx, l.url, options)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "listener stopping")
	l.logger.Info("notification stream connected")

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		if messageType != websocket.MessageText {
			continue
		}
		var event remote.ChangeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			l.logger.Warn("dropping undecodable notification", zap.Error(err))
			continue
		}
		l.handler(event)
	}
}
