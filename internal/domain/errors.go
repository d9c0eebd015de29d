package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidConfiguration marks malformed base-URL or environment
// configuration. Fatal at startup, never retried.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrConnectionNotFound is returned when no connection exists for the
// requested user or connection id.
var ErrConnectionNotFound = errors.New("portfolio connection not found")

// ErrSyncInProgress is returned when a sync is already running for the
// connection. The caller retries after the running sync finishes.
var ErrSyncInProgress = errors.New("sync already in progress for this connection")

// RemoteAPIError is a non-2xx response from the brokerage API. The status
// travels with the error so callers can distinguish re-auth from retry.
type RemoteAPIError struct {
	Status  int
	Message string
}

func (e *RemoteAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("brokerage API error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("brokerage API error %d", e.Status)
}

// Unauthorized reports whether the caller should prompt for a new token
// instead of retrying.
func (e *RemoteAPIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// AccountResolutionKind enumerates the recoverable account-resolution
// outcomes. None of them is a system fault; all are resolved by asking the
// user for an explicit choice or a valid token.
type AccountResolutionKind int

const (
	// AccountNotFound - the requested account id is not in the token's account list.
	AccountNotFound AccountResolutionKind = iota
	// NoAccounts - the token sees no accounts at all.
	NoAccounts
	// AccountSelectionRequired - more than one account exists and none was specified.
	AccountSelectionRequired
)

func (k AccountResolutionKind) String() string {
	switch k {
	case AccountNotFound:
		return "account_not_found"
	case NoAccounts:
		return "no_accounts"
	case AccountSelectionRequired:
		return "account_selection_required"
	default:
		return "unknown"
	}
}

// AccountResolutionError carries the resolution outcome plus the account
// previews the caller needs to prompt the user with.
type AccountResolutionError struct {
	Kind     AccountResolutionKind
	Accounts []AccountPreview
}

func (e *AccountResolutionError) Error() string {
	return fmt.Sprintf("account resolution failed: %s", e.Kind)
}

// AsRemoteAPIError unwraps err into a RemoteAPIError if one is in the chain.
func AsRemoteAPIError(err error) (*RemoteAPIError, bool) {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// AsAccountResolutionError unwraps err into an AccountResolutionError.
func AsAccountResolutionError(err error) (*AccountResolutionError, bool) {
	var resErr *AccountResolutionError
	if errors.As(err, &resErr) {
		return resErr, true
	}
	return nil, false
}
