package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"backoffice/src/connectors"
	"backoffice/src/model"
	"backoffice/src/repository"

	logger "github.com/sirupsen/logrus"
)

var replayKinds = []string{
	model.ExceptionKindOrderInsert,
	model.ExceptionKindDepositApply,
}

// ReplayReport counts what one Replay pass did.
type ReplayReport struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Replay re-applies captured order inserts and deposit credits. Inserts are
// idempotent on the ledger order id.
func (c *OrderController) Replay(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport

	pending, err := c.exceptions.FindUnresolved(ctx, replayKinds, c.cfg.ReplayBatchSize)
	if err != nil {
		return report, fmt.Errorf("load unresolved exceptions: %w", err)
	}

	for _, exc := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		log := logger.WithFields(map[string]interface{}{
			"controller":   "OrderController",
			"op":           "Replay",
			"exception_id": exc.ID,
			"kind":         exc.Kind,
			"replay_key":   exc.ReplayKey,
		})

		if err := c.replayOne(ctx, exc); err != nil {
			report.Failed++
			c.metrics.IncReplay(exc.Kind, "failed")
			log.WithError(err).Warn("replay failed")
			if e := c.exceptions.IncrementAttempts(ctx, exc.ID); e != nil {
				log.WithError(e).Error("failed to record replay attempt")
			}
			continue
		}

		if err := c.exceptions.MarkResolved(ctx, exc.ID); err != nil {
			return report, fmt.Errorf("mark exception %d resolved: %w", exc.ID, err)
		}
		report.Resolved++
		c.metrics.IncReplay(exc.Kind, "resolved")
		log.Info("exception replayed")
	}

	return report, nil
}

func (c *OrderController) replayOne(ctx context.Context, exc model.Exception) error {
	switch exc.Kind {
	case model.ExceptionKindOrderInsert:
		var order model.Order
		if err := json.Unmarshal([]byte(exc.Payload), &order); err != nil {
			return fmt.Errorf("decode order payload: %w", err)
		}
		if order.ExternalID == 0 {
			return errors.New("order payload without external id")
		}
		order.ID = 0
		order.Logs = nil
		return c.orders.Create(ctx, &order)

	case model.ExceptionKindDepositApply:
		var p depositPayload
		if err := json.Unmarshal([]byte(exc.Payload), &p); err != nil {
			return fmt.Errorf("decode deposit payload: %w", err)
		}
		_, err := c.applyDeposit(ctx, p.AccountID, p.AssetID, p.Amount)
		return err
	}

	return fmt.Errorf("no replay for kind %q", exc.Kind)
}

// ApplyOrderEvent mirrors a status pushed by the ledger stream. Executed and
// canceled orders are final; a cancel decided by the ledger releases the reservation.
func (c *OrderController) ApplyOrderEvent(ctx context.Context, ev connectors.OrderEvent) error {
	log := logger.WithFields(map[string]interface{}{
		"controller":  "OrderController",
		"op":          "ApplyOrderEvent",
		"external_id": ev.OrderID,
		"status":      ev.Status,
	})

	order, err := c.orders.FindByExternalID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", ev.OrderID, err)
	}
	if order == nil {
		log.Debug("event for unknown order ignored")
		return nil
	}
	if strings.EqualFold(order.Status, ev.Status) || !order.Cancellable() {
		return nil
	}

	if err := c.orders.UpdateStatusWithAutoLog(ctx, order, ev.Status, "ledger stream"); err != nil {
		if errors.Is(err, repository.ErrOrderFinal) {
			log.Debug("order became final before the event, ignored")
			return nil
		}
		return fmt.Errorf("update order %d: %w", ev.OrderID, err)
	}

	if order.IsCanceled() && order.ReservedAmount.IsPositive() {
		c.release(ctx, order.AccountID, order.ReservedAssetID, order.ReservedAmount, "ledger_canceled")
	}

	log.Info("order status synced")
	return nil
}
