package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Dosada05/duel-tournament/handlers"
	"github.com/Dosada05/duel-tournament/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Options struct {
	JWTSecret          string
	WebhookSecret      string
	CORSAllowedOrigins []string
	Metrics            http.Handler
	Logger             *slog.Logger
}

type Handlers struct {
	Tournaments *handlers.TournamentHandler
	Webhooks    *handlers.WebhookHandler
	WebSocket   *handlers.WebSocketHandler
	Health      *handlers.HealthHandler
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(opts.JWTSecret, opts.Logger)

	router.Get("/healthz", h.Health.Healthz)
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// Websocket connections are long-lived, so they stay outside the request timeout.
	router.Get("/ws/tournaments/{tournamentID}", h.WebSocket.ServeWs)

	router.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(60 * time.Second))

		r.Route("/tournaments", func(r chi.Router) {
			r.Get("/", h.Tournaments.ListHandler)
			r.With(authenticate).Post("/", h.Tournaments.CreateHandler)

			r.Route("/{tournamentID}", func(r chi.Router) {
				r.Get("/", h.Tournaments.GetByIDHandler)
				r.Get("/standings", h.Tournaments.StandingsHandler)
				r.Get("/rounds/current", h.Tournaments.CurrentRoundHandler)
				r.Get("/matches", h.Tournaments.MatchesHandler)

				r.Group(func(r chi.Router) {
					r.Use(authenticate)
					r.Post("/rounds", h.Tournaments.StartRoundHandler)
					r.Post("/advance", h.Tournaments.AdvanceHandler)
					r.Post("/cancel", h.Tournaments.CancelHandler)
				})
			})
		})

		r.Get("/guilds/{guildID}/tournaments/active", h.Tournaments.ActiveByGuildHandler)

		r.With(middleware.RequireSignature(opts.WebhookSecret)).
			Post("/webhooks/duels/completed", h.Webhooks.DuelCompletedHandler)
	})
}
