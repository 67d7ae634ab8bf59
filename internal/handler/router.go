package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/efreitasn/fractionex/internal/metrics"
	"github.com/efreitasn/fractionex/internal/service"
	"github.com/efreitasn/fractionex/internal/stream"
)

// Services bundles everything the router serves.
type Services struct {
	Accounts    *service.AccountService
	Vault       *service.VaultService
	Orders      *service.OrderService
	Trades      *service.TradeService
	Custody     *service.CustodyService
	Broadcaster *stream.Broadcaster
	Metrics     *metrics.Metrics
}

// RateLimit configures the global token bucket. A zero Limit disables it.
type RateLimit struct {
	Limit float64
	Burst int
}

// NewRouter creates a chi router with all routes registered, request logging,
// metrics, optional rate limiting and Content-Type validation middleware.
func NewRouter(svc Services, rl RateLimit, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(requestMetrics(svc.Metrics))
	if rl.Limit > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(rl.Limit), max(rl.Burst, 1))))
	}
	r.Use(contentTypeJSON)

	decimals := svc.Accounts.Decimals()

	// Create handlers.
	accountH := NewAccountHandler(svc.Accounts, svc.Vault, svc.Orders)
	vaultH := NewVaultHandler(svc.Vault, decimals)
	orderH := NewOrderHandler(svc.Orders, decimals)
	tradeH := NewTradeHandler(svc.Trades, decimals)
	custodyH := NewCustodyHandler(svc.Custody)
	streamH := NewStreamHandler(svc.Broadcaster, logger)

	// Health check and metrics.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())

	// Account routes.
	r.Post("/accounts/{account}/deposit", accountH.Deposit)
	r.Post("/accounts/{account}/withdraw", accountH.Withdraw)
	r.Get("/accounts/{account}/balance", accountH.GetBalance)
	r.Get("/accounts/{account}/share-classes", accountH.ListShareClasses)
	r.Get("/accounts/{account}/orders", accountH.ListOrders)

	// Share class routes.
	r.Post("/share-classes", vaultH.Deposit)
	r.Get("/share-classes", vaultH.ListShareClasses)
	r.Get("/share-classes/{id}", vaultH.GetShareClass)
	r.Get("/share-classes/{id}/holders", vaultH.ListHolders)
	r.Post("/share-classes/{id}/redeem", vaultH.Redeem)
	r.Post("/share-classes/{id}/transfer", vaultH.Transfer)

	// Order and book routes.
	r.Post("/orders", orderH.PlaceOrder)
	r.Get("/orders/{order_id}", orderH.GetOrder)
	r.Delete("/share-classes/{id}/orders/{side}/{order_id}", orderH.DeleteOrder)
	r.Get("/share-classes/{id}/orders/{side}", orderH.GetOrders)
	r.Get("/share-classes/{id}/book", orderH.GetBook)
	r.Get("/share-classes/{id}/quote", orderH.GetQuote)

	// Trade routes.
	r.Get("/share-classes/{id}/trades", tradeH.GetTrades)
	r.Get("/share-classes/{id}/price", tradeH.GetPrice)
	r.Get("/trades/journal", tradeH.GetJournal)
	r.Get("/trades/stream", streamH.Serve)

	// Admin routes.
	r.Get("/admin/pause", vaultH.GetPauseState)
	r.Post("/admin/pause", vaultH.Pause)
	r.Post("/admin/unpause", vaultH.Unpause)

	// Custody routes.
	r.Post("/custody/assets", custodyH.Mint)
	r.Post("/custody/assets/approve", custodyH.Approve)
	r.Get("/custody/assets/{collection}/{token_id}", custodyH.OwnerOf)

	return r
}
