// errors.go -- typed failures for the install flow.
package auth

import (
	"fmt"
	"net/http"
)

// Reason identifies why an install request failed. Used as the metrics label
// and the "reason" log attribute.
type Reason string

const (
	ReasonMissingParameter  Reason = "missing_parameter"
	ReasonInvalidState      Reason = "invalid_state"
	ReasonSignatureMismatch Reason = "hmac_mismatch"
	ReasonInvalidDomain     Reason = "invalid_domain"
	ReasonTokenExchange     Reason = "token_exchange_failed"
	ReasonProfileFetch      Reason = "profile_fetch_failed"
	ReasonPersistence       Reason = "persistence_failed"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonInternal          Reason = "internal"
)

// failureKinds maps each reason to its response status and client-facing message.
var failureKinds = map[Reason]struct {
	status  int
	message string
}{
	ReasonMissingParameter:  {http.StatusBadRequest, "missing parameter"},
	ReasonInvalidState:      {http.StatusForbidden, "invalid state"},
	ReasonSignatureMismatch: {http.StatusUnauthorized, "hmac validation failed"},
	ReasonInvalidDomain:     {http.StatusBadRequest, "invalid shop domain"},
	ReasonTokenExchange:     {http.StatusUnauthorized, "failed to obtain access token"},
	ReasonProfileFetch:      {http.StatusInternalServerError, "failed to fetch store details"},
	ReasonPersistence:       {http.StatusInternalServerError, "failed to save store"},
	ReasonRateLimited:       {http.StatusTooManyRequests, "too many requests"},
	ReasonInternal:          {http.StatusInternalServerError, "internal server error"},
}

// Failure is a terminal install-flow error. Message is safe to return to the
// client; Err is the internal cause and is only ever logged.
type Failure struct {
	Reason  Reason
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// newFailure builds a Failure with the standard status and message for reason.
func newFailure(reason Reason, err error) *Failure {
	kind, ok := failureKinds[reason]
	if !ok {
		kind = failureKinds[ReasonInternal]
	}
	return &Failure{Reason: reason, Status: kind.status, Message: kind.message, Err: err}
}

// missingParameter names the absent query parameter in the message.
func missingParameter(name string) *Failure {
	f := newFailure(ReasonMissingParameter, nil)
	f.Message = "missing " + name + " parameter"
	return f
}
