// internal/channel/channel.go
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Message is one delivery attempt handed to a sender.
type Message struct {
	TargetID    string
	Destination string
	Subject     string
	Body        string
	Metadata    map[string]string
}

// Result is a provider acknowledgement. Async senders (voice) only accept
// the attempt here; the final status arrives later via webhook.
type Result struct {
	ExternalID string
	Raw        map[string]any
	Async      bool
}

// Sender is implemented once per channel. All implementations share the
// same contract and are selected by registry lookup, never by branching
// in the dispatcher.
type Sender interface {
	// Channel is the campaign channel discriminator (sms, whatsapp, ...).
	Channel() string
	// Integration names the external provider for circuit breaking.
	Integration() string
	Send(ctx context.Context, msg Message) (*Result, error)
}

// TerminalError marks a failure that must not be retried, e.g. an invalid
// destination or a permanent provider rejection.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as a terminal failure.
func Terminal(reason string, err error) error {
	return &TerminalError{Reason: reason, Err: err}
}

// IsTerminal reports whether err is classified as non-retryable.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// Registry maps channel discriminators to senders.
type Registry struct {
	senders map[string]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[string]Sender)}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

func (r *Registry) Lookup(channel string) (Sender, bool) {
	s, ok := r.senders[channel]
	return s, ok
}
