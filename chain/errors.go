package chain

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

// Kind is the outcome class of a failed RPC request.
type Kind int

const (
	// KindTransient failures are retried with backoff.
	KindTransient Kind = iota
	// KindRangeLimit failures mean the provider refused the requested block span;
	// the caller subdivides the range instead of retrying it.
	KindRangeLimit
	// KindFatal failures abort the run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRangeLimit:
		return "range_limit"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrRangeLimit marks a provider-side block range or result size limit.
	ErrRangeLimit = errors.New("provider rejected block range")
	// ErrTooManyFailures is returned when the share of failed fetches in a scan
	// exceeds the configured error rate.
	ErrTooManyFailures = errors.New("too many failed fetches")
)

// limitExceededCode is the JSON-RPC code used by geth, Alchemy and Infura for
// "limit exceeded" responses.
const limitExceededCode = -32005

// Provider wording for log query limits. There is no standard code for this, so
// the message is the only reliable signal.
var rangeLimitMarkers = []string{
	"query returned more than",
	"block range",
	"range too large",
	"range is too large",
	"too many results",
	"response size exceeded",
	"response size should not greater than",
	"log response size exceeded",
	"limit exceeded",
	"query timeout exceeded",
}

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"too many requests",
	"rate limit",
	"header not found",
	"service unavailable",
	"bad gateway",
}

// Classify maps an RPC error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindFatal
	case errors.Is(err, ErrRangeLimit):
		return KindRangeLimit
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrInvalidEndpoint), errors.Is(err, ErrTooManyFailures):
		return KindFatal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ethereum.NotFound):
		return KindTransient
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rangeLimitMarkers {
		if strings.Contains(msg, marker) {
			return KindRangeLimit
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusRequestEntityTooLarge:
			return KindRangeLimit
		case httpErr.StatusCode == http.StatusTooManyRequests, httpErr.StatusCode >= 500:
			return KindTransient
		default:
			return KindFatal
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.ErrorCode() == limitExceededCode {
			return KindRangeLimit
		}
		for _, marker := range transientMarkers {
			if strings.Contains(msg, marker) {
				return KindTransient
			}
		}
		// -32603 is the generic "internal error" most providers use for overload.
		if rpcErr.ErrorCode() == -32603 {
			return KindTransient
		}
		return KindFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}
