package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"backoffice/src/controller"
	"backoffice/src/model"
	"backoffice/src/repository"

	"github.com/go-chi/chi/v5"
)

type orderPlacer interface {
	PlaceOrder(ctx context.Context, req controller.PlaceOrderRequest) (*model.Order, error)
}

type orderCanceler interface {
	CancelOrder(ctx context.Context, accountID uint, externalOrderID int64, symbol string) (*model.Order, error)
}

type orderSearcher interface {
	ListOrders(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
}

// PlaceOrderHandler places an order for the account in the path.
func PlaceOrderHandler(placer orderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		var req controller.PlaceOrderRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		req.AccountID = accountID

		order, err := placer.PlaceOrder(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

// CancelOrderHandler cancels the ledger order in the path.
// The optional instrument query parameter overrides the stored symbol.
func CancelOrderHandler(canceler orderCanceler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
		if err != nil || orderID <= 0 {
			badRequest(w, "invalid orderID")
			return
		}

		order, err := canceler.CancelOrder(r.Context(), accountID, orderID, r.URL.Query().Get("instrument"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

// SearchOrdersHandler lists the account's orders.
// Supports pagination and filters (instrumentId, status, createdFrom, createdTo).
func SearchOrdersHandler(searcher orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		var instrumentID *uint
		if instrumentParam := r.URL.Query().Get("instrumentId"); instrumentParam != "" {
			id, err := strconv.ParseUint(instrumentParam, 10, 64)
			if err != nil {
				badRequest(w, "invalid instrumentId")
				return
			}
			instrument := uint(id)
			instrumentID = &instrument
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			status = &statusParam
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := r.URL.Query().Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				badRequest(w, "invalid createdFrom")
				return
			}
			createdFrom = &parsed
		}

		if createdToParam := r.URL.Query().Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				badRequest(w, "invalid createdTo")
				return
			}
			createdTo = &parsed
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				badRequest(w, "invalid page")
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 || parsedSize > 500 {
				badRequest(w, "invalid pageSize")
				return
			}
			pageSize = parsedSize
		}

		orders, err := searcher.ListOrders(r.Context(), repository.OrderSearchOptions{
			AccountID:     accountID,
			InstrumentID:  instrumentID,
			Status:        status,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        (page - 1) * pageSize,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}
