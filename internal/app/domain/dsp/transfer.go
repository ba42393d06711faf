package dsp

import "time"

// TransferState enumerates the legal Transfer Process states.
type TransferState string

const (
	TransferRequested  TransferState = "REQUESTED"
	TransferStarted    TransferState = "STARTED"
	TransferSuspended  TransferState = "SUSPENDED"
	TransferCompleted  TransferState = "COMPLETED"
	TransferTerminated TransferState = "TERMINATED"
)

// Terminal reports whether the state accepts no further transitions.
func (s TransferState) Terminal() bool {
	return s == TransferCompleted || s == TransferTerminated
}

// TransferMessageType enumerates the DSP message types the TP engine accepts.
type TransferMessageType string

const (
	MsgTransferRequest     TransferMessageType = "transfer-request"
	MsgTransferStart       TransferMessageType = "transfer-start"
	MsgTransferSuspension  TransferMessageType = "transfer-suspension"
	MsgTransferCompletion  TransferMessageType = "transfer-completion"
	MsgTransferTermination TransferMessageType = "transfer-termination"
)

// TransferDirection distinguishes provider-pull from provider-push transfers.
type TransferDirection string

const (
	TransferPull TransferDirection = "Pull"
	TransferPush TransferDirection = "Push"
)

// TransferProcess mirrors NegotiationProcess but for the post-agreement
// data-movement workflow.
type TransferProcess struct {
	ID               string
	State            TransferState
	StateAttribute   Role
	Role             Role
	AssociatedPeer   string
	Protocol         string
	CallbackAddress  string
	Properties       map[string]any
	ErrorDetails     string
	TransferDirection TransferDirection
	AgreementID      string
	DataPlaneSessionID string
	// ConsumerDataAddress carries the consumer-supplied sink for PUSH transfers.
	ConsumerDataAddress string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep-enough copy safe for callers to mutate.
func (p TransferProcess) Clone() TransferProcess {
	out := p
	if p.Properties != nil {
		out.Properties = make(map[string]any, len(p.Properties))
		for k, v := range p.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

// TransferMessage is the append-only log entry for TP transitions.
type TransferMessage struct {
	ID                  string
	ProcessID           string
	Direction           Direction
	Protocol            string
	MessageType         TransferMessageType
	StateTransitionFrom TransferState
	StateTransitionTo   TransferState
	Payload             map[string]any
	CreatedAt           time.Time
}
