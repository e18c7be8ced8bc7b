package textgen

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrCredentialMissing is returned before any remote call when the
	// backend needs an API key and none was supplied.
	ErrCredentialMissing = errors.New("api key missing")
	// ErrCredentialInvalid means the remote service rejected the API key.
	ErrCredentialInvalid = errors.New("api key not valid")
	// ErrNetwork wraps transport failures: DNS, refused connections, resets.
	ErrNetwork = errors.New("network failure contacting model")
	// ErrMalformedResponse means the call succeeded but carried no text.
	ErrMalformedResponse = errors.New("model response has no text")

	// ErrRateLimited is how a Backend reports throttling. Generator turns it
	// into OutcomeRateLimited and never returns it.
	ErrRateLimited = errors.New("rate limited")
)

// RemoteError is any other non-success answer from the model endpoint.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("model endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("model endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}

// classifyStatus maps an HTTP status and remote message onto the error
// taxonomy shared by all backends.
func classifyStatus(code int, message string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrCredentialInvalid, message)
	case code == http.StatusBadRequest && strings.Contains(message, "API key not valid"):
		return fmt.Errorf("%w: %s", ErrCredentialInvalid, message)
	}
	return &RemoteError{StatusCode: code, Message: message}
}

// IsCredentialError reports whether err should send the user back to the
// API key field.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrCredentialMissing) || errors.Is(err, ErrCredentialInvalid)
}
