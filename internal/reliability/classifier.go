package reliability

import (
	"context"
	"errors"
	"net"
)

// Error codes used as metric labels for failed provider calls.
const (
	CodeTimeout     = "timeout"
	CodeCanceled    = "canceled"
	CodeAuth        = "auth"
	CodeQuota       = "quota"
	CodeUnavailable = "unavailable"
	CodeRejected    = "rejected"
	CodeTransport   = "transport"
	CodeUnknown     = "unknown"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes. Nothing in the
// service retries; the distinction only separates upstream outages from
// rejected requests.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a provider HTTP status to an error code.
func ClassifyHTTPStatus(code int) string {
	switch {
	case code == 401 || code == 403:
		return CodeAuth
	case code == 429:
		return CodeQuota
	case code == 408:
		return CodeTimeout
	case IsRetryableHTTPStatus(code):
		return CodeUnavailable
	case code >= 400 && code < 500:
		return CodeRejected
	default:
		return CodeUnknown
	}
}

// ClassifyError maps a provider error without a usable status code.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeTransport
	}
	return CodeUnknown
}
