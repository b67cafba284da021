package signals

import "fmt"

// Error codes carried in error-shaped responses.
const (
	CodeUpgradeRequired  = "upgrade_required"
	CodeNotFound         = "not_found"
	CodeInvalidArgument  = "invalid_argument"
	CodeStoreUnavailable = "store_unavailable"
)

// Error is a structured, caller-facing failure. Transports render it as a response body
// rather than a transport error.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
	Ticker  string `json:"ticker,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
