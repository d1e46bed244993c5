package publish

import (
	"errors"
	"fmt"
	"net/http"
)

// State names a step of the publish pipeline.
type State string

const (
	StateValidatingPayment State = "validating_payment"
	StateResolvingIdentity State = "resolving_identity"
	StateUpsertingProfile  State = "upserting_profile"
	StateReplacingContent  State = "replacing_content"
	StateRecordingPurchase State = "recording_purchase"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Reason is the stable, user-visible cause of an aborted publish.
type Reason string

const (
	ReasonPaymentNotFound    Reason = "payment_not_found"
	ReasonPaymentIncomplete  Reason = "payment_incomplete"
	ReasonPaymentUnavailable Reason = "payment_unavailable"
	ReasonSlugMismatch       Reason = "slug_mismatch"
	ReasonSlugTaken          Reason = "slug_taken"
	ReasonAllocationFailure  Reason = "allocation_failure"
	ReasonStoreWriteFailure  Reason = "store_write_failure"
	ReasonInvalidDraft       Reason = "invalid_draft"
)

// Message returns the human-readable text shown to the buyer.
func (r Reason) Message() string {
	switch r {
	case ReasonPaymentNotFound:
		return "We could not find this payment."
	case ReasonPaymentIncomplete:
		return "This payment has not completed yet."
	case ReasonPaymentUnavailable:
		return "The payment processor did not respond. Please try again."
	case ReasonSlugMismatch:
		return "This payment was made for a different address."
	case ReasonSlugTaken:
		return "That address was just claimed by someone else."
	case ReasonAllocationFailure, ReasonStoreWriteFailure:
		return "Something went wrong while publishing. Please try again."
	case ReasonInvalidDraft:
		return "Some of the page details are invalid."
	default:
		return "Publishing failed."
	}
}

// HTTPStatus maps the reason to its status class.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonPaymentNotFound:
		return http.StatusNotFound
	case ReasonPaymentIncomplete:
		return http.StatusPaymentRequired
	case ReasonSlugMismatch, ReasonSlugTaken:
		return http.StatusConflict
	case ReasonInvalidDraft:
		return http.StatusBadRequest
	case ReasonPaymentUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether resubmitting the same transaction id may succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonPaymentUnavailable, ReasonAllocationFailure, ReasonStoreWriteFailure:
		return true
	default:
		return false
	}
}

// AbortError is returned by Publish when the pipeline stops before Done. State is the step
// that failed.
type AbortError struct {
	Reason Reason
	State  State
	Err    error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("publish aborted in %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("publish aborted in %s: %s: %v", e.State, e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller should resubmit with the same transaction id.
func (e *AbortError) Retryable() bool {
	return e.Reason.Retryable()
}

func abort(state State, reason Reason, cause error) error {
	return &AbortError{Reason: reason, State: state, Err: cause}
}

// ReasonOf extracts the abort reason from err.
func ReasonOf(err error) (Reason, bool) {
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return abortErr.Reason, true
	}
	return "", false
}
