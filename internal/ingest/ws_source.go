package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSSource consumes mentions as JSON frames from an upstream detection
// service over WebSocket, reconnecting with backoff on failure.
type WSSource struct {
	URL            string
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

// NewWSSource creates a source for the given ws:// or wss:// URL.
func NewWSSource(url string) *WSSource {
	return &WSSource{
		URL:            url,
		Dialer:         websocket.DefaultDialer,
		ReconnectDelay: time.Second,
		MaxReconnect:   time.Minute,
	}
}

// Stream reads mention frames into out until ctx is cancelled. Malformed
// frames are logged and skipped; connection drops trigger reconnect.
func (s *WSSource) Stream(ctx context.Context, out chan<- Mention) error {
	delay := s.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
		if err != nil {
			log.Warn().Err(err).Str("url", s.URL).Dur("retry_in", delay).Msg("mention feed dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, s.MaxReconnect)
			continue
		}
		delay = s.ReconnectDelay
		log.Info().Str("url", s.URL).Msg("mention feed connected")

		if err := s.readLoop(ctx, conn, out); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("mention feed dropped, reconnecting")
		}
		conn.Close()
	}
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Mention) error {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var m Mention
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug().Err(err).Msg("skipping malformed mention frame")
			continue
		}

		select {
		case out <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
