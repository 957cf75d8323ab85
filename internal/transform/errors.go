package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: network blips, rate
	// limits, service overload.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks failures that will not improve with retries:
	// rejected prompts, malformed responses, validation errors.
	ErrPermanent = errors.New("permanent failure")
)

// Transient wraps err so IsRetryable reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err so IsRetryable reports false.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Wrap builds an error that includes operation context while tagging it with
// the provided marker. The marker should be ErrTransient or ErrPermanent.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether a transform failure should be requeued. The
// inference collaborator decides classification by wrapping with Transient or
// Permanent; unclassified errors default to retryable so max_attempts bounds
// them. Context cancellation is never retryable: the claim simply expires and
// another worker picks the task up.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrPermanent):
		return false
	default:
		return true
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "transform failure"
	}
	return strings.Join(parts, ": ")
}
