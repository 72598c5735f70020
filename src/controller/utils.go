package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"time"

	"backoffice/src/model"

	logger "github.com/sirupsen/logrus"
)

const serviceName = "backoffice"

// NormalizeSymbol upper-cases and trims an instrument symbol.
// Examples:
//
//	aapl/usd   -> AAPL/USD
//	" MSFT/USD" -> MSFT/USD
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// canonical returns the entry of allowed equal to value ignoring case.
func canonical(value string, allowed ...string) (string, bool) {
	v := strings.TrimSpace(value)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a, true
		}
	}
	return "", false
}

// Capture records a system exception, logs it locally, and optionally
// persists it in the database.
func Capture(
	ctx context.Context,
	repo ExceptionStore,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {
	capture(ctx, repo, &model.Exception{
		Service: service,
		Module:  module,
		Method:  method,
		Level:   level,
	}, err, contextData)
}

// CaptureForReplay records an exception the replay loop can re-apply from payload.
func CaptureForReplay(
	ctx context.Context,
	repo ExceptionStore,
	kind string,
	replayKey string,
	method string,
	err error,
	payload interface{},
) {
	exc := &model.Exception{
		Service:   serviceName,
		Module:    "order_controller",
		Method:    method,
		Level:     "error",
		Kind:      kind,
		ReplayKey: replayKey,
	}
	if payload != nil {
		if b, e := json.Marshal(payload); e == nil {
			exc.Payload = string(b)
		}
	}
	capture(ctx, repo, exc, err, nil)
}

func capture(ctx context.Context, repo ExceptionStore, exc *model.Exception, err error, contextData map[string]interface{}) {
	if err == nil {
		return
	}

	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			exc.Context = string(b)
		}
	}

	exc.Message = err.Error()
	exc.Stack = string(debug.Stack())
	exc.CreatedAt = time.Now()

	// Local log
	logger.WithFields(map[string]interface{}{
		"service":    exc.Service,
		"module":     exc.Module,
		"method":     exc.Method,
		"level":      exc.Level,
		"kind":       exc.Kind,
		"replay_key": exc.ReplayKey,
	}).WithError(err).Error("System exception captured")

	// Persist in database
	if repo != nil {
		if e := repo.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
