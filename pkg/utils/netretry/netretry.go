// Package netretry classifies transient cluster and Git transport errors.
package netretry

import (
	"regexp"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// httpStatusCodePattern matches HTTP 5xx status codes at word boundaries
// to avoid false positives on port numbers like ":5000".
var httpStatusCodePattern = regexp.MustCompile(`\b50[0-4]\b`)

// textPatterns are HTTP 5xx status texts and TCP-level transient errors.
var textPatterns = []string{
	"Internal Server Error", "Bad Gateway",
	"Service Unavailable", "Gateway Timeout",
	"connection reset by peer", "connection refused",
	"i/o timeout", "TLS handshake timeout",
	"unexpected EOF", "no such host",
}

// IsRetryable returns true if the error indicates a transient failure that
// should be retried: Kubernetes API throttling and availability errors,
// resourceVersion conflicts, HTTP 5xx responses and TCP-level errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsTransientAPIError(err) {
		return true
	}

	errMsg := err.Error()

	for _, pattern := range textPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return httpStatusCodePattern.MatchString(errMsg)
}

// IsTransientAPIError reports Kubernetes API status errors that clear on their own.
func IsTransientAPIError(err error) bool {
	return apierrors.IsServiceUnavailable(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsConflict(err)
}
