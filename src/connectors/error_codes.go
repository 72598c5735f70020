package connectors

import (
	"errors"
	"fmt"
)

// ErrorCode is the business error code the ledger puts in failed responses.
type ErrorCode int

const (
	CodeUnknown               ErrorCode = 0
	CodeMarketClosed          ErrorCode = 99
	CodeInstrumentNotFound    ErrorCode = 100
	CodeMissingOrInvalidParam ErrorCode = 101
	CodeAccountNotOptedIn     ErrorCode = 104
	CodeInsufficientBalance   ErrorCode = 105
	CodeSuccess               ErrorCode = 200
)

// LedgerErrorCodes maps ledger codes to their names.
var LedgerErrorCodes = map[ErrorCode]string{
	CodeMarketClosed:          "MARKET_CLOSED",
	CodeInstrumentNotFound:    "INSTRUMENT_NOT_FOUND",
	CodeMissingOrInvalidParam: "MISSING_INVALID_PARAM",
	CodeAccountNotOptedIn:     "ACCOUNT_NOT_OPT_IN",
	CodeInsufficientBalance:   "INSUFFICIENT_BALANCE",
	CodeSuccess:               "SUCCESS",
}

// ParseErrorCode narrows a raw code to the closed set. Anything unknown is CodeUnknown.
func ParseErrorCode(raw int) ErrorCode {
	code := ErrorCode(raw)
	if _, ok := LedgerErrorCodes[code]; ok {
		return code
	}
	return CodeUnknown
}

func (c ErrorCode) String() string {
	if name, ok := LedgerErrorCodes[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_LEDGER_ERROR_%d", int(c))
}

// ErrLedgerUnavailable is returned when the ledger could not be reached or kept
// failing after the retry budget was spent. The outcome of the call is unknown.
var ErrLedgerUnavailable = errors.New("ledger service unavailable")

// LedgerError is a structured rejection returned by the ledger.
type LedgerError struct {
	Code       ErrorCode
	RawCode    int
	Message    string
	HTTPStatus int
}

func (e *LedgerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger error %s (http %d)", e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("ledger error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// AsLedgerError unwraps err into a *LedgerError.
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
