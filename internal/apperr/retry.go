package apperr

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// transientStatusFragments are substrings of HTTP error messages produced by
// the embedder and chat model clients that indicate a retryable condition.
var transientStatusFragments = []string{
	"HTTP 429", "Too Many Requests", "rate limit",
	"HTTP 500", "HTTP 502", "HTTP 503", "HTTP 504",
	"Internal Server Error", "Bad Gateway", "Service Unavailable", "Gateway Timeout",
	"connection refused", "connection reset", "EOF",
}

// Retryable reports whether err is worth retrying at the boundary closest
// to the failing resource. Classified errors decide by Kind; unclassified
// errors are inspected for deadlines, network timeouts, gRPC codes (Qdrant),
// and HTTP status fragments (embedding and generation providers).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case Transient, QueueDelivery:
			return true
		case Validation, Parse, LimitExceeded, NotFound:
			return false
		}
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}
	msg := err.Error()
	for _, frag := range transientStatusFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Classify wraps err as Transient when Retryable reports true and leaves it
// untouched otherwise. Already-classified errors pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if Retryable(err) {
		return &Error{Kind: Transient, Op: op, Err: err}
	}
	return err
}
