// internal/models/side.go
package models

import (
	"fmt"
	"strings"
)

// Side is one of the two matchmaking roles. Hosts create lobbies, joiners
// fill them.
type Side uint8

const (
	SideHost Side = iota + 1
	SideJoiner
)

// Sides lists every valid side, in queue-key order.
var Sides = []Side{SideHost, SideJoiner}

func (s Side) String() string {
	switch s {
	case SideHost:
		return "host"
	case SideJoiner:
		return "joiner"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Valid reports whether s is SideHost or SideJoiner.
func (s Side) Valid() bool {
	return s == SideHost || s == SideJoiner
}

// ParseSide accepts the canonical names as well as the legacy client wire
// values "A" (host) and "B" (joiner), case-insensitively.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "host", "a":
		return SideHost, nil
	case "joiner", "b":
		return SideJoiner, nil
	}
	return 0, fmt.Errorf("unknown side %q", raw)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
