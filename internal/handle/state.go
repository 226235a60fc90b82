package handle

import "fmt"

// State is the connection state of a Handle.
type State int

const (
	Closed State = iota
	Opening
	Open
	Degraded
	Reconnecting
)

var stateNames = [...]string{"Closed", "Opening", "Open", "Degraded", "Reconnecting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Live reports whether the handle still owns, or is trying to regain, a device.
func (s State) Live() bool {
	return s == Open || s == Degraded || s == Reconnecting
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
