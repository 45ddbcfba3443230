package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrOfferNotFound   = errors.New("offer not found")
	ErrCatalogNotFound = errors.New("catalog not found")
)

// Failure codes recorded on offers, in the event log and in API responses.
const (
	CodeAPIKeyMissing     = "API_KEY_MISSING"
	CodeHTTPError         = "HTTP_ERROR"
	CodeTransportError    = "TRANSPORT_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeNoConfidentMatch  = "NO_CONFIDENT_MATCH"
	CodePriceMissing      = "PRICE_MISSING"
	CodePriceNotFound     = "PRICE_NOT_FOUND"
	CodePersonalizedPrice = "PERSONALIZED_PRICE"
	CodeFetchFailed       = "FETCH_FAILED"
	CodeOfferNotFound     = "OFFER_NOT_FOUND"
	CodeUnsupportedStore  = "UNSUPPORTED_STORE"
	CodeStoreError        = "STORE_ERROR"
	CodePriceChanged      = "PRICE_CHANGED"
)

// VerifyError is a typed verification failure.
type VerifyError struct {
	Code    string
	Message string
	Method  VerificationMethod
}

func (e *VerifyError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Method, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewVerifyError(method VerificationMethod, code, format string, args ...any) *VerifyError {
	return &VerifyError{Code: code, Message: fmt.Sprintf(format, args...), Method: method}
}

// CodeOf extracts the failure code from err. Context deadline errors map to
// TIMEOUT; anything else untyped is a transport error.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, ErrOfferNotFound) {
		return CodeOfferNotFound
	}
	return CodeTransportError
}

// IsPersonalized reports whether code means the price depends on the viewer.
func IsPersonalized(code string) bool {
	return code == CodePersonalizedPrice
}
