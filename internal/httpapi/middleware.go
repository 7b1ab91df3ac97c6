package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
)

type contextKey string

const (
	participantKey contextKey = "participant"
	localeKey      contextKey = "locale"
)

// ParticipantHeader carries the caller's identity. Authentication happens upstream.
const ParticipantHeader = "X-Participant-ID"

// Participant returns the identity stored by WithParticipant.
func Participant(ctx context.Context) string {
	p, _ := ctx.Value(participantKey).(string)
	return p
}

// Locale returns the language negotiated by WithLocale.
func Locale(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(localeKey).(language.Tag); ok {
		return tag
	}
	return language.English
}

// WithParticipant reads the caller from X-Participant-ID, or ?participant= for
// clients that cannot set headers (EventSource).
func WithParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.Header.Get(ParticipantHeader)
		if p == "" {
			p = r.URL.Query().Get("participant")
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), participantKey, p)))
	})
}

func WithLocale(fallback language.Tag) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := apperr.ResolveTag(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), fallback)
			w.Header().Set("Content-Language", tag.String())
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeKey, tag)))
		})
	}
}

// AccessLog logs method, path, status and duration of every request.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
