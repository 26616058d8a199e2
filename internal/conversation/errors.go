package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound indicates the conversation id is unknown to storage.
	ErrConversationNotFound = errors.New("conversation: conversation not found")

	// ErrConversationClosed indicates a message arrived for a closed or
	// abandoned conversation.
	ErrConversationClosed = errors.New("conversation: conversation is closed")
)

// ProviderError wraps a failure from an LLM provider with its retry
// classification. Transient failures (timeouts, throttling) are retried by the
// gateway; anything else propagates immediately.
type ProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("conversation: %s provider error (%s): %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried per the gateway policy:
// an explicit transient ProviderError, a context deadline, or a throttling
// signal from the provider SDK.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return isTimeout(err) || isThrottle(err)
}
