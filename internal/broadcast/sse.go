package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	sse "github.com/alexandrevicenzi/go-sse"
	"go.uber.org/zap"
)

// SSE serves one event-stream channel per session.
type SSE struct {
	srv *sse.Server
}

// NewSSE builds the stream server. sessionOf extracts the session id from the
// subscribing request; it decides which channel a client joins.
func NewSSE(sessionOf func(*http.Request) string, log *zap.Logger) *SSE {
	srv := sse.NewServer(&sse.Options{
		RetryInterval: 2000,
		Headers: map[string]string{
			"Cache-Control":     "no-cache",
			"X-Accel-Buffering": "no",
		},
		ChannelNameFunc: func(r *http.Request) string { return channelName(sessionOf(r)) },
		Logger:          zap.NewStdLog(log.Named("sse")),
	})
	return &SSE{srv: srv}
}

func channelName(sessionID string) string { return "session:" + sessionID }

func (s *SSE) Publish(_ context.Context, e Event) error {
	name := channelName(e.SessionID)
	if !s.srv.HasChannel(name) {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.srv.SendMessage(name, sse.NewMessage(strconv.FormatInt(e.Version, 10), string(data), string(e.Type)))
	if e.Type.Terminal() {
		s.srv.CloseChannel(name)
	}
	return nil
}

func (s *SSE) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.srv.ServeHTTP(w, r) }

func (s *SSE) Shutdown() { s.srv.Shutdown() }
