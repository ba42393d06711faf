package dsp

import "time"

// DataPlaneState enumerates the lifecycle states of a data-plane session.
type DataPlaneState string

const (
	SessionRequested DataPlaneState = "REQUESTED"
	SessionStarted   DataPlaneState = "STARTED"
	SessionSuspended DataPlaneState = "SUSPENDED"
	SessionStopped   DataPlaneState = "STOPPED"
)

// DataPlaneSession is the authorized, state-coupled byte transport for the
// lifetime of a STARTED TransferProcess. Owned exclusively by L3; the TP
// engine only ever holds a reference by id.
type DataPlaneSession struct {
	ID                string // equals the owning TransferProcess id
	Direction         TransferDirection
	State             DataPlaneState
	UpstreamAddress   string
	DownstreamAddress string
	SessionAddress    string
	AuthMaterial      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransferEvent is an audit log entry for a byte-level or lifecycle event
// within a data-plane session.
type TransferEvent struct {
	ID        string
	SessionID string
	From      string
	To        string
	Payload   map[string]any
	CreatedAt time.Time
}
