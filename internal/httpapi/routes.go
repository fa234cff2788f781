package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/hub"
	"github.com/DoyleJ11/pixelana-backend/internal/ws"
)

func SetupRoutes(api *API, h *hub.Hub) http.Handler {
	if api.Signatures == nil {
		api.Signatures = NewVerifier(DefaultSignatureWindow)
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests(api.Log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, api.Ledger, api.Log))
	r.Get("/vault", api.GetVault)
	r.Get("/players/{owner}", api.GetPlayer)
	r.Get("/games/{room}", api.GetGame)
	r.Get("/accounts/{address}", api.GetAccount)
	r.Get("/transactions", api.ListTransactions)

	// Signed routes
	r.Group(func(r chi.Router) {
		r.Use(api.Signatures.Middleware)
		r.Post("/vault", api.InitializeVault())
		r.Post("/players", api.InitializePlayer())
		r.Post("/players/deposit", api.Deposit())
		r.Post("/players/deduct", api.Deduct())
		r.Post("/games", api.CreateGame())
		r.Post("/games/{room}/join", api.JoinGame())
		r.Post("/games/{room}/leave", api.LeaveGame())
		r.Post("/games/{room}/start", api.StartGame())
		r.Post("/games/{room}/story", api.SubmitStory())
		r.Post("/games/{room}/drawings", api.SubmitDrawing())
		r.Post("/games/{room}/winner", api.SelectWinner())
		r.Post("/games/{room}/mint", api.MintNft())
		if api.Faucet != nil {
			r.Post("/faucet", api.Airdrop)
		}
	})
	return r
}

func logRequests(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
