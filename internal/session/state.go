package session

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of the scan session.
type State int

const (
	// Uninitialized: the engine has not finished initialization. Terminal
	// after an initialization failure until Retry succeeds.
	Uninitialized State = iota
	// Ready: the engine is initialized and no view is attached.
	Ready
	// Mounted: a view is attached but scanning has not started.
	Mounted
	// Scanning: camera on, detections flowing.
	Scanning
	// Paused: camera on, detections suppressed.
	Paused
	// Transitioning: reported while a command is in flight.
	Transitioning
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	Ready:         "ready",
	Mounted:       "mounted",
	Scanning:      "scanning",
	Paused:        "paused",
	Transitioning: "transitioning",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the State with the given name (case-insensitive).
func ParseState(name string) (State, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, sn := range stateNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown session state %q", name)
}

// Command is an operator command.
type Command string

const (
	CmdInitialize Command = "initialize"
	CmdOpen       Command = "open"
	CmdPause      Command = "pause"
	CmdResume     Command = "resume"
	CmdClose      Command = "close"
)

// transitions maps a settled state and a command to the target state.
// A target equal to the source is a no-op. Pairs not listed are rejected.
var transitions = map[State]map[Command]State{
	Uninitialized: {
		CmdInitialize: Ready,
		CmdClose:      Uninitialized,
	},
	Ready: {
		CmdInitialize: Ready,
		CmdOpen:       Scanning,
		CmdClose:      Ready,
	},
	Mounted: {
		CmdInitialize: Mounted,
		CmdClose:      Ready,
	},
	Scanning: {
		CmdInitialize: Scanning,
		CmdPause:      Paused,
		CmdResume:     Scanning,
		CmdClose:      Ready,
	},
	Paused: {
		CmdInitialize: Paused,
		CmdPause:      Paused,
		CmdResume:     Scanning,
		CmdClose:      Ready,
	},
}

// target returns the state cmd leads to from s.
func target(s State, cmd Command) (State, bool) {
	to, ok := transitions[s][cmd]
	return to, ok
}

// Change describes a settled state change.
type Change struct {
	From State   `json:"from"`
	To   State   `json:"to"`
	Op   Command `json:"op"`
}
