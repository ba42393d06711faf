// Package transfer implements the Transfer Process (TP) state machine: the
// second, post-agreement protocol that provisions a data plane and governs
// its lifecycle.
package transfer

import (
	"context"
	"time"

	svc "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
	"github.com/google/uuid"
)

type transition struct {
	from      dsp.TransferState
	msg       dsp.TransferMessageType
	to        dsp.TransferState
	symmetric bool
}

// table enumerates every legal edge from §4.3, excluding termination which
// is handled like negotiation's: legal from any non-terminal state, gated
// by the state_attribute rule.
var table = []transition{
	{from: "", msg: dsp.MsgTransferRequest, to: dsp.TransferRequested},
	{from: dsp.TransferRequested, msg: dsp.MsgTransferStart, to: dsp.TransferStarted},
	{from: dsp.TransferStarted, msg: dsp.MsgTransferSuspension, to: dsp.TransferSuspended, symmetric: true},
	{from: dsp.TransferSuspended, msg: dsp.MsgTransferStart, to: dsp.TransferStarted, symmetric: true},
	{from: dsp.TransferStarted, msg: dsp.MsgTransferCompletion, to: dsp.TransferCompleted},
}

const terminationMsg = dsp.MsgTransferTermination

// DataPlane is the subset of the L3 coordinator the TP engine depends on to
// satisfy its additional obligations over §4.2 (provision/pause/teardown).
type DataPlane interface {
	Provision(ctx context.Context, transferID string, direction dsp.TransferDirection, consumerDataAddress string) (dsp.DataPlaneSession, error)
	Suspend(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
}

// Peer sends a composed outbound message to the counterpart connector.
type Peer interface {
	Send(ctx context.Context, participantID string, msg dsp.TransferMessage) error
}

// Message is one inbound protocol message handed to the engine.
type Message struct {
	Type                dsp.TransferMessageType
	ProcessID           string // == providerPid == consumerPid; TP does not split the identifier pair
	ReceiverRole        dsp.Role
	AgreementID         string
	Direction           dsp.TransferDirection
	ConsumerDataAddress string
	AssociatedPeer      string
	CallbackAddress     string
	Protocol            string
}

// Engine drives the TP state machine.
type Engine struct {
	svc.Base
	stores    storage.Transactor
	agreement storage.AgreementStore
	locker    *svc.Locker
	dataPlane DataPlane
	peer      Peer
}

// New constructs a TP Engine.
func New(stores storage.Transactor, agreement storage.AgreementStore, dataPlane DataPlane, peer Peer, base svc.Base) *Engine {
	return &Engine{Base: base, stores: stores, agreement: agreement, locker: svc.NewLocker(), dataPlane: dataPlane, peer: peer}
}

// Deliver hands an outbound message to the configured Peer.
func (e *Engine) Deliver(ctx context.Context, participantID string, msg dsp.TransferMessage) error {
	if e.peer == nil {
		return dsperr.New(dsperr.KindPeerUnreachable, "no peer transport configured")
	}
	if err := e.peer.Send(ctx, participantID, msg); err != nil {
		return dsperr.Wrap(dsperr.KindPeerUnreachable, err, "deliver transfer message")
	}
	return nil
}

// Handle runs the transition-handler contract for one inbound TP message.
func (e *Engine) Handle(ctx context.Context, m Message) (dsp.TransferProcess, error) {
	var result dsp.TransferProcess
	err := e.Observe(ctx, "transfer.handle", map[string]string{"message_type": string(m.Type)}, func(ctx context.Context) error {
		out, err := e.handle(ctx, m)
		result = out
		return err
	})
	return result, err
}

func (e *Engine) handle(ctx context.Context, m Message) (dsp.TransferProcess, error) {
	isInitial := m.Type == dsp.MsgTransferRequest

	processID := m.ProcessID
	if isInitial {
		if processID == "" {
			processID = uuid.NewString()
		}
	} else if processID == "" {
		return dsp.TransferProcess{}, dsperr.BadPayload("message carries no process id")
	}

	release := e.locker.Lock(processID)
	defer release()

	var (
		proc dsp.TransferProcess
		err  error
	)
	if isInitial {
		if m.AgreementID == "" {
			return dsp.TransferProcess{}, dsperr.BadPayload("transfer-request requires an agreementId")
		}
		agreement, agErr := e.agreement.GetAgreement(ctx, m.AgreementID)
		if agErr != nil {
			return dsp.TransferProcess{}, dsperr.Wrap(dsperr.KindBadPayload, agErr, "resolve agreement")
		}
		if agreement.State != dsp.AgreementFinalized {
			return dsp.TransferProcess{}, dsperr.ProtocolViolation("agreement %q is not finalized", m.AgreementID)
		}
		if m.Direction == dsp.TransferPush && m.ConsumerDataAddress == "" {
			return dsp.TransferProcess{}, dsperr.BadPayload("push transfer requires a consumer data address")
		}
		proc = dsp.TransferProcess{
			ID:                  processID,
			Role:                dsp.RoleProvider,
			AssociatedPeer:      m.AssociatedPeer,
			Protocol:            m.Protocol,
			CallbackAddress:     m.CallbackAddress,
			Properties:          map[string]any{},
			TransferDirection:   m.Direction,
			AgreementID:         m.AgreementID,
			ConsumerDataAddress: m.ConsumerDataAddress,
		}
	} else {
		err = e.stores.WithinTx(ctx, func(s storage.Stores) error {
			p, err := s.Transfer.GetTransfer(ctx, processID)
			if err != nil {
				return err
			}
			proc = p
			return nil
		})
		if err != nil {
			return dsp.TransferProcess{}, err
		}
	}

	edge, err := resolveTransition(proc.State, m.Type, proc.StateAttribute, m.ReceiverRole)
	if err != nil {
		return dsp.TransferProcess{}, err
	}

	now := time.Now().UTC()
	proc.State = edge.to
	proc.UpdatedAt = now
	if proc.CreatedAt.IsZero() {
		proc.CreatedAt = now
	}
	if edge.symmetric && edge.to != dsp.TransferSuspended {
		proc.StateAttribute = ""
	} else if edge.symmetric {
		proc.StateAttribute = m.ReceiverRole
	}
	if m.Type == terminationMsg {
		proc.StateAttribute = ""
	}

	// Additional obligations over §4.2, still before the single-transaction
	// commit so a data-plane provisioning failure aborts the transition.
	var provisioned dsp.DataPlaneSession
	switch {
	case edge.to == dsp.TransferStarted && proc.DataPlaneSessionID == "":
		if e.dataPlane == nil {
			return dsp.TransferProcess{}, dsperr.Internal("no data plane coordinator configured")
		}
		sess, err := e.dataPlane.Provision(ctx, proc.ID, proc.TransferDirection, proc.ConsumerDataAddress)
		if err != nil {
			return dsp.TransferProcess{}, dsperr.Backend(err, "provision data plane session")
		}
		provisioned = sess
		proc.DataPlaneSessionID = sess.ID
	case edge.to == dsp.TransferSuspended:
		if e.dataPlane != nil && proc.DataPlaneSessionID != "" {
			if err := e.dataPlane.Suspend(ctx, proc.DataPlaneSessionID); err != nil {
				return dsp.TransferProcess{}, dsperr.Backend(err, "suspend data plane session")
			}
		}
	case edge.to == dsp.TransferStarted && edge.symmetric && proc.DataPlaneSessionID != "":
		if e.dataPlane != nil {
			if err := e.dataPlane.Resume(ctx, proc.DataPlaneSessionID); err != nil {
				return dsp.TransferProcess{}, dsperr.Backend(err, "resume data plane session")
			}
		}
	case proc.State.Terminal():
		if e.dataPlane != nil && proc.DataPlaneSessionID != "" {
			if err := e.dataPlane.Stop(ctx, proc.DataPlaneSessionID); err != nil {
				return dsp.TransferProcess{}, dsperr.Backend(err, "stop data plane session")
			}
		}
	}

	msgRow := dsp.TransferMessage{
		ID:                  uuid.NewString(),
		ProcessID:           processID,
		Direction:           dsp.DirectionIn,
		Protocol:            m.Protocol,
		MessageType:         m.Type,
		StateTransitionFrom: edge.from,
		StateTransitionTo:   edge.to,
		Payload:             messagePayload(m, provisioned),
		CreatedAt:           now,
	}

	// The commit is detached from request cancellation so a client
	// disconnect cannot abort it.
	ctx = context.WithoutCancel(ctx)
	err = e.stores.WithinTx(ctx, func(s storage.Stores) error {
		if isInitial {
			if err := s.Transfer.CreateTransfer(ctx, proc); err != nil {
				return err
			}
		} else {
			if err := s.Transfer.UpdateTransfer(ctx, proc); err != nil {
				return err
			}
		}
		return s.TransferMessage.AppendTransferMessage(ctx, msgRow)
	})
	if err != nil {
		return dsp.TransferProcess{}, err
	}

	if proc.State.Terminal() {
		e.locker.Forget(processID)
	}

	return proc, nil
}

func resolveTransition(from dsp.TransferState, msg dsp.TransferMessageType, attr dsp.Role, role dsp.Role) (transition, error) {
	if from.Terminal() {
		return transition{}, dsperr.ProtocolViolation("transfer process already in terminal state %q", from)
	}
	if msg == terminationMsg {
		if from == "" {
			return transition{}, dsperr.ProtocolViolation("no transfer process to terminate")
		}
		if attr != "" && attr != role {
			return transition{}, dsperr.ProtocolViolation("termination already in flight, initiated by %s", attr)
		}
		return transition{from: from, msg: msg, to: dsp.TransferTerminated, symmetric: true}, nil
	}
	for _, t := range table {
		if t.from == from && t.msg == msg {
			if t.symmetric && attr != "" && attr == role {
				return transition{}, dsperr.ProtocolViolation("transition already in flight, initiated by %s", attr)
			}
			return t, nil
		}
	}
	return transition{}, dsperr.ProtocolViolation("illegal transition: from=%q message=%q", from, msg)
}

func messagePayload(m Message, sess dsp.DataPlaneSession) map[string]any {
	payload := map[string]any{"processId": m.ProcessID}
	if sess.ID != "" {
		payload["dataAddress"] = sess.SessionAddress
	}
	if m.ConsumerDataAddress != "" {
		payload["consumerDataAddress"] = m.ConsumerDataAddress
	}
	return payload
}
