package controller

import (
	"errors"
	"fmt"

	"backoffice/src/connectors"
)

// Kind classifies every error the engine returns.
type Kind string

const (
	KindValidation             Kind = "Validation"
	KindNotFound               Kind = "NotFound"
	KindInsufficientBalance    Kind = "InsufficientBalance"
	KindLedgerRejected         Kind = "LedgerRejected"
	KindLedgerUnavailable      Kind = "LedgerUnavailable"
	KindConcurrentModification Kind = "ConcurrentModification"
	KindNotCancellable         Kind = "NotCancellable"
	KindInternal               Kind = "Internal"
)

// Error is the only error type returned by OrderController operations.
// Code is set for ledger rejections.
type Error struct {
	Kind    Kind
	Message string
	Code    connectors.ErrorCode
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var ledgerRejectionMessages = map[connectors.ErrorCode]string{
	connectors.CodeMarketClosed:          "market is closed",
	connectors.CodeInstrumentNotFound:    "instrument not found at ledger",
	connectors.CodeMissingOrInvalidParam: "ledger rejected a missing or invalid parameter",
	connectors.CodeAccountNotOptedIn:     "account is not opted in at ledger",
	connectors.CodeInsufficientBalance:   "insufficient balance at ledger",
}

// fromLedger maps a gateway failure onto the engine taxonomy. Anything that is
// not a structured rejection leaves the outcome unknown.
func fromLedger(op string, err error) *Error {
	if le, ok := connectors.AsLedgerError(err); ok {
		msg, known := ledgerRejectionMessages[le.Code]
		if !known {
			msg = "ledger rejected the request"
		}
		return &Error{Kind: KindLedgerRejected, Message: op + ": " + msg, Code: le.Code, Err: err}
	}
	return &Error{Kind: KindLedgerUnavailable, Message: op + ": ledger unavailable", Err: err}
}
