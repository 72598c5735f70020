package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"backoffice/src/controller"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

var kindStatus = map[controller.Kind]int{
	controller.KindValidation:             http.StatusBadRequest,
	controller.KindNotFound:               http.StatusNotFound,
	controller.KindInsufficientBalance:    http.StatusConflict,
	controller.KindLedgerRejected:         http.StatusUnprocessableEntity,
	controller.KindLedgerUnavailable:      http.StatusBadGateway,
	controller.KindConcurrentModification: http.StatusServiceUnavailable,
	controller.KindNotCancellable:         http.StatusConflict,
	controller.KindInternal:               http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeFailure(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": body}); err != nil {
		logger.WithError(err).Error("failed to encode error response")
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusBadRequest, errorBody{Kind: string(controller.KindValidation), Message: message})
}

// writeError renders an engine error. Internal details are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *controller.Error
	if !errors.As(err, &ce) {
		ce = &controller.Error{Kind: controller.KindInternal, Message: "internal error", Err: err}
	}

	status, ok := kindStatus[ce.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	entry := logger.WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"kind":   ce.Kind,
	}).WithError(err)
	if status >= 500 {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	body := errorBody{Kind: string(ce.Kind), Message: ce.Message, Code: int(ce.Code)}
	if ce.Kind == controller.KindInternal {
		body.Message = "internal error"
	}
	writeFailure(w, status, body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func uintParam(r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
