package handler

import (
	"context"
	"net/http"

	"backoffice/src/model"

	"github.com/shopspring/decimal"
)

type optInner interface {
	OptIn(ctx context.Context, accountID, assetID uint) (*model.Balance, error)
}

type transferer interface {
	Deposit(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)
	Withdraw(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)
}

type feeSetter interface {
	SetTradingFee(ctx context.Context, accountID, instrumentID uint, takerFee, makerFee int) (*model.TradingFee, error)
}

type balanceLister interface {
	ListBalances(ctx context.Context, accountID uint) ([]model.Balance, error)
}

type optInPayload struct {
	AssetID uint `json:"assetId"`
}

type transferPayload struct {
	AssetID uint            `json:"assetId"`
	Amount  decimal.Decimal `json:"amount"`
}

type feePayload struct {
	InstrumentID uint `json:"instrumentId"`
	TakerFee     int  `json:"takerFee"`
	MakerFee     int  `json:"makerFee"`
}

func OptInHandler(svc optInner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		var payload optInPayload
		if err := decodeBody(r, &payload); err != nil || payload.AssetID == 0 {
			badRequest(w, "invalid payload")
			return
		}

		balance, err := svc.OptIn(r.Context(), accountID, payload.AssetID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, balance)
	}
}

func transferHandler(apply func(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		var payload transferPayload
		if err := decodeBody(r, &payload); err != nil || payload.AssetID == 0 {
			badRequest(w, "invalid payload")
			return
		}

		balance, err := apply(r.Context(), accountID, payload.AssetID, payload.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, balance)
	}
}

// DepositHandler credits the account at the ledger and locally.
func DepositHandler(svc transferer) http.HandlerFunc {
	return transferHandler(svc.Deposit)
}

func WithdrawHandler(svc transferer) http.HandlerFunc {
	return transferHandler(svc.Withdraw)
}

func TradingFeeHandler(svc feeSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		var payload feePayload
		if err := decodeBody(r, &payload); err != nil || payload.InstrumentID == 0 {
			badRequest(w, "invalid payload")
			return
		}

		fee, err := svc.SetTradingFee(r.Context(), accountID, payload.InstrumentID, payload.TakerFee, payload.MakerFee)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, fee)
	}
}

func BalancesHandler(svc balanceLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := uintParam(r, "accountID")
		if !ok {
			badRequest(w, "invalid accountID")
			return
		}

		balances, err := svc.ListBalances(r.Context(), accountID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, balances)
	}
}
