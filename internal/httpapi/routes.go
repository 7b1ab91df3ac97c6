package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

type Deps struct {
	Sessions Sessions
	// Events serves the per-session SSE stream; WS the websocket endpoint.
	Events  http.Handler
	WS      http.Handler
	Metrics http.Handler
	// Ping reports store health for /healthz. Optional.
	Ping          func(ctx context.Context) error
	Log           *zap.Logger
	DefaultLocale language.Tag
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.DefaultLocale == language.Und {
		d.DefaultLocale = language.English
	}
	api := &API{sessions: d.Sessions, log: d.Log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(api.log))
	r.Use(middleware.Recoverer)
	r.Use(WithLocale(d.DefaultLocale))

	// Public routes
	r.Get("/healthz", Healthz(d.Ping))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(WithParticipant)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", api.CreateRoom)
			r.Post("/{roomID}/members", api.JoinRoom)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", api.StartSession)
			r.Get("/{sessionID}", api.GetState)
			r.Delete("/{sessionID}", api.Cancel)
			r.Post("/{sessionID}/votes", api.CastVote)
			r.Post("/{sessionID}/continue", api.Continue)
			r.Post("/{sessionID}/tie-continue", api.TieContinue)
			r.Delete("/{sessionID}/participants/{participantID}", api.Exclude)
			r.Get("/{sessionID}/results", api.FinalResults)
			if d.Events != nil {
				r.Handle("/{sessionID}/events", d.Events)
			}
		})
	})
	return r
}

// SessionIDParam is how the SSE server finds the session of a subscriber.
func SessionIDParam(r *http.Request) string { return chi.URLParam(r, "sessionID") }
