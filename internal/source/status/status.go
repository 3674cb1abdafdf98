// Package status validates the "stat" field many exchange endpoints return
// alongside their payload.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a stat value.
type Kind int

// Stat kinds.
const (
	OK Kind = iota
	BadStatus
	Malformed
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case BadStatus:
		return "bad_status"
	default:
		return "malformed"
	}
}

var (
	// ErrBadStatus means the provider answered with a non-OK stat.
	ErrBadStatus = errors.New("provider returned non-OK stat")
	// ErrMalformed means the stat field was missing or empty.
	ErrMalformed = errors.New("provider response has no stat")
)

// Result is the outcome of Check.
type Result struct {
	Kind  Kind
	Value string
}

// Check classifies stat. "OK" matches case-insensitively and ignores
// surrounding whitespace.
func Check(stat *string) Result {
	if stat == nil {
		return Result{Kind: Malformed}
	}
	v := strings.TrimSpace(*stat)
	switch {
	case v == "":
		return Result{Kind: Malformed}
	case strings.EqualFold(v, "OK"):
		return Result{Kind: OK, Value: v}
	default:
		return Result{Kind: BadStatus, Value: v}
	}
}

// OK reports whether the stat was OK.
func (r Result) OK() bool {
	return r.Kind == OK
}

// Err returns nil for OK results and a wrapped sentinel error otherwise.
func (r Result) Err() error {
	switch r.Kind {
	case OK:
		return nil
	case BadStatus:
		return fmt.Errorf("%w: %q", ErrBadStatus, r.Value)
	default:
		return ErrMalformed
	}
}
