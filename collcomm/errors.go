package collcomm

import (
	"errors"
	"fmt"
)

var (
	ErrReservedTag = errors.New("collcomm: tags must be non-negative")
	ErrBadRank     = errors.New("collcomm: rank out of range")
)

// An AbortError is returned by every communication call
// after some rank in the group called Abort.
type AbortError struct {
	Rank   int
	Reason string
}

func (a *AbortError) Error() string {
	return fmt.Sprintf("aborted by rank %d: %s", a.Rank, a.Reason)
}

// A SizeError is returned when a received message does
// not have the length the receiver expected.
type SizeError struct {
	Source int
	Tag    int
	Want   int
	Got    int
}

func (s *SizeError) Error() string {
	return fmt.Sprintf("collcomm: message from rank %d (tag %d) has %d elements, expected %d",
		s.Source, s.Tag, s.Got, s.Want)
}

// RootCause picks the error that explains a failed run
// out of every rank's result.
//
// An error from the rank that aborted the group is
// preferred over the AbortErrors it caused elsewhere.
func RootCause(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var abortErr *AbortError
		if !errors.As(err, &abortErr) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}
