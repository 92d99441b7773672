// Package poll holds the poll invariant group: option validation, vote
// admission, and the tally/voter-set pairing rules. The logic is pure; the
// store applies admitted votes transactionally.
package poll

import (
	"errors"
	"strings"

	"github.com/cadenzahq/cadenza/internal/store"
)

var (
	// ErrInvalidOptions is returned for fewer than two options or an
	// empty option text.
	ErrInvalidOptions = errors.New("poll needs at least 2 non-empty options")

	// ErrAlreadyVoted is returned when the voter is already in the
	// poll's voter set. Repeated votes never change the tally.
	ErrAlreadyVoted = errors.New("voter has already voted on this poll")

	// ErrClosed is returned for votes on a closed poll.
	ErrClosed = errors.New("poll is closed")

	// ErrInvalidOption is returned for an option index out of range.
	ErrInvalidOption = errors.New("option index out of range")
)

// MinOptions is the smallest allowed option set.
const MinOptions = 2

// ValidateOptions checks a new poll's option texts.
func ValidateOptions(options []string) error {
	if len(options) < MinOptions {
		return ErrInvalidOptions
	}
	for _, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return ErrInvalidOptions
		}
	}
	return nil
}

// CheckVote decides whether a vote is admissible against the given poll
// snapshot. It mutates nothing; inadmissible votes surface synchronously
// without touching state.
func CheckVote(p *store.Poll, voterID string, optionIndex int) error {
	if p.Closed {
		return ErrClosed
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return ErrInvalidOption
	}
	for _, v := range p.Voters {
		if v == voterID {
			return ErrAlreadyVoted
		}
	}
	return nil
}

// ApplyVote records a vote on an in-memory snapshot: one tally increment
// paired with one voter-set entry. The caller must have admitted the vote
// with CheckVote first.
func ApplyVote(p *store.Poll, voterID string, optionIndex int) {
	p.Options[optionIndex].Tally++
	p.Voters = append(p.Voters, voterID)
}

// TallySum returns the total vote count across all options. It must equal
// the voter-set size at all times.
func TallySum(p *store.Poll) int {
	sum := 0
	for _, opt := range p.Options {
		sum += opt.Tally
	}
	return sum
}
