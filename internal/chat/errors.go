package chat

import (
	"errors"

	"github.com/cadenzahq/cadenza/internal/poll"
)

// Error taxonomy surfaced to the presentation layer. Local-recoverable
// errors are returned synchronously and mutate nothing.
var (
	// ErrNotFound is returned for an unknown conversation or poll.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for empty message text or malformed
	// poll options.
	ErrInvalidInput = errors.New("invalid input")

	// Poll admission errors, owned by the poll invariant group.
	ErrAlreadyVoted  = poll.ErrAlreadyVoted
	ErrPollClosed    = poll.ErrClosed
	ErrInvalidOption = poll.ErrInvalidOption
)
