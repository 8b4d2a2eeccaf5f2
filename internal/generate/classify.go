package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/K8rrik/FreeCluely/pkg/provider/model"
)

// User-visible failure messages. The API-error form embeds the upstream code
// and message verbatim so the user can relay them when reporting issues.
const (
	msgNoInternet    = "No internet connection. Check your connection."
	msgTimedOut      = "Request timed out. Server is not responding."
	msgCannotConnect = "Failed to connect to server."
)

// Classify maps a stream failure to the message shown in the assistant slot.
//
// Structured API errors render their upstream code and message. Transport
// failures collapse into three buckets: no connectivity, timeout, and
// connection refused/unreachable host. Anything else falls through to a
// generic network error carrying the underlying description.
func Classify(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("⚠️ API Error (%d): %s", apiErr.Code, apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return msgTimedOut
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return msgCannotConnect
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		return msgCannotConnect
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.ENETDOWN):
		return msgNoInternet
	}

	return fmt.Sprintf("Network Error: %s", err.Error())
}
