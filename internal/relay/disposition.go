package relay

import (
	"github.com/stacklet/provider-relay/internal/failure"
)

// Disposition is what the host does with a message after an invocation.
type Disposition int

const (
	// Acknowledge removes the message from the queue.
	Acknowledge Disposition = iota
	// Requeue fails the invocation so the host redelivers the message,
	// moving it to the poison queue once the dequeue ceiling is reached.
	Requeue
)

// String returns the disposition name.
func (d Disposition) String() string {
	if d == Requeue {
		return "requeue"
	}
	return "acknowledge"
}

// Dispose maps an invocation result to a disposition. Terminal failures are
// acknowledged unless surfaceTerminal is set; configuration and transient
// failures, and anything unclassified, are requeued.
func Dispose(err error, surfaceTerminal bool) Disposition {
	switch {
	case err == nil:
		return Acknowledge
	case failure.IsKind(err, failure.KindPolicyDeny):
		return Acknowledge
	case failure.IsTerminal(err):
		if surfaceTerminal {
			return Requeue
		}
		return Acknowledge
	default:
		return Requeue
	}
}
