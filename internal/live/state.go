package live

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosed     State = "closed"
	StateErrored    State = "error"
)

// Status is what the display layer renders for the session phase.
type Status struct {
	State  State  `json:"state"`
	Text   string `json:"text"`
	Active bool   `json:"active"`
}

var DefaultStatusMessages = map[State]string{
	StateIdle:       "Ready for voice conversation",
	StateConnecting: "Connecting...",
	StateActive:     "Live connection active",
	StateClosed:     "Connection closed",
	StateErrored:    "Microphone or API error",
}

type RestartPolicy string

const (
	// RestartReject makes Start fail with ErrAlreadyActive while a session runs.
	RestartReject RestartPolicy = "reject"
	// RestartReplace stops the running session before starting a new one.
	RestartReplace RestartPolicy = "replace"
)

func ParseRestartPolicy(s string) RestartPolicy {
	if RestartPolicy(s) == RestartReplace {
		return RestartReplace
	}
	return RestartReject
}
