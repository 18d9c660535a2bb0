package xrps

import (
	"fmt"
	"strings"
)

// Mode is the operating mode of the coordinator.
type Mode int

// The operating modes.
const (
	// ModeDisabled leaves flow rings alone.
	ModeDisabled Mode = iota

	// ModeMaster drives its own burst interval with the system-interval
	// timer.
	ModeMaster

	// ModeSlave follows the peer, flushing on received traffic.
	ModeSlave

	numModes
)

var modeNames = [numModes]string{"disabled", "master", "slave"}

func (m Mode) valid() bool {
	return m >= 0 && m < numModes
}

func (m Mode) String() string {
	if !m.valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}

	return modeNames[m]
}

// ParseMode converts a mode name or number into a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	for i, name := range modeNames {
		if s == name || s == fmt.Sprint(i) {
			return Mode(i), nil
		}
	}

	return ModeDisabled, fmt.Errorf("xrps: unknown mode %q: %w",
		s, ErrInvalidArgument)
}
