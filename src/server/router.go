package server

import (
	"context"
	"net/http"

	"backoffice/src/auth"
	"backoffice/src/controller"
	"backoffice/src/handler"
	"backoffice/src/metrics"
	"backoffice/src/model"
	"backoffice/src/repository"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Service is everything the HTTP API drives. *controller.OrderController implements it.
type Service interface {
	PlaceOrder(ctx context.Context, req controller.PlaceOrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, accountID uint, externalOrderID int64, symbol string) (*model.Order, error)
	ListOrders(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error)
	ListBalances(ctx context.Context, accountID uint) ([]model.Balance, error)
	OptIn(ctx context.Context, accountID, assetID uint) (*model.Balance, error)
	Deposit(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)
	Withdraw(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)
	SetTradingFee(ctx context.Context, accountID, instrumentID uint, takerFee, makerFee int) (*model.TradingFee, error)
}

var _ Service = (*controller.OrderController)(nil)

// NewRouter mounts the back-office API. Only /healthcheck and /metrics are public.
func NewRouter(svc Service, registry *prometheus.Registry, apiKeys map[string]string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write error")
		}
	})
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(apiKeys))

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/opt-in", handler.OptInHandler(svc))
			r.Post("/deposit", handler.DepositHandler(svc))
			r.Post("/withdraw", handler.WithdrawHandler(svc))
			r.Post("/fees", handler.TradingFeeHandler(svc))
			r.Get("/balances", handler.BalancesHandler(svc))

			r.Post("/orders", handler.PlaceOrderHandler(svc))
			r.Get("/orders", handler.SearchOrdersHandler(svc))
			r.Delete("/orders/{orderID}", handler.CancelOrderHandler(svc))
		})
	})

	return r
}
