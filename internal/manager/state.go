package manager

import "fmt"

// State is the user-visible status of the logical connection.
type State int

const (
	Idle               State = iota
	ConnectingToServer       // dialing the relay
	Connecting               // relay leg open, waiting for the remote party
	Open                     // remote party proved itself with an authentic message
	Reconnecting             // a live connection was lost, or an attempt failed and a retry is pending
	Failed                   // gave up; only Retry or Stop leave this state
	Closed                   // stopped; terminal
)

var stateNames = [...]string{
	Idle:               "idle",
	ConnectingToServer: "connectingToServer",
	Connecting:         "connecting",
	Open:               "open",
	Reconnecting:       "reconnecting",
	Failed:             "failed",
	Closed:             "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions lists every allowed move. Moving to the current state is a
// no-op and always allowed.
var transitions = map[State][]State{
	Idle:               {ConnectingToServer, Closed},
	ConnectingToServer: {Connecting, Reconnecting, Failed, Closed},
	Connecting:         {Open, Reconnecting, Failed, Closed},
	Open:               {Reconnecting, Failed, Closed},
	Reconnecting:       {ConnectingToServer, Connecting, Failed, Closed},
	Failed:             {ConnectingToServer, Closed},
	Closed:             nil,
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Stage tells a reconnecting owner which leg is being re-established.
type Stage int

const (
	StageServer Stage = iota // the relay leg died or could not be dialed
	StageRemote              // the leg is up but the remote party stopped answering
)

func (s Stage) String() string {
	if s == StageRemote {
		return "remote"
	}
	return "server"
}
