package remote

import "time"

// Actions accepted on the command topic.
const (
	ActionSpawn = "spawn"
	ActionKill  = "kill"
)

// Ack statuses.
const (
	AckOK    = "ok"
	AckError = "error"
)

// Command is the payload of a node command message.
type Command struct {
	// ID is echoed in the ack for correlation. Optional.
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
}

// AckMessage reports the outcome of a Command.
type AckMessage struct {
	ID        string    `json:"id,omitempty"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newAck(cmd Command, err error) AckMessage {
	ack := AckMessage{
		ID:        cmd.ID,
		Action:    cmd.Action,
		Status:    AckOK,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		ack.Status = AckError
		ack.Error = err.Error()
	}
	return ack
}
