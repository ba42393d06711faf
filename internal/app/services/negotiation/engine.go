// Package negotiation implements the Contract Negotiation (CN) state
// machine: an asymmetric, message-driven protocol between Provider and
// Consumer, persisting every transition.
package negotiation

import (
	"context"
	"time"

	"github.com/R3E-Network/service_layer/internal/app/collaborators"
	svc "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
	"github.com/google/uuid"
)

// transition names one legal (from, message type) edge for a receiving role.
type transition struct {
	from     dsp.NegotiationState
	msg      dsp.NegotiationMessageType
	receiver dsp.Role
	to       dsp.NegotiationState
	// symmetric marks edges either role may initiate (only termination here),
	// gated instead by the state_attribute rule.
	symmetric bool
}

// table enumerates every legal edge from §4.2. The zero from-state ("") means
// the process does not yet exist and this message creates it.
var table = []transition{
	{from: "", msg: dsp.MsgContractRequest, receiver: dsp.RoleProvider, to: dsp.NegotiationRequested},
	{from: dsp.NegotiationRequested, msg: dsp.MsgContractOffer, receiver: dsp.RoleConsumer, to: dsp.NegotiationOffered},
	{from: dsp.NegotiationOffered, msg: dsp.MsgContractEventAccepted, receiver: dsp.RoleProvider, to: dsp.NegotiationAccepted},
	{from: dsp.NegotiationAccepted, msg: dsp.MsgContractAgreement, receiver: dsp.RoleConsumer, to: dsp.NegotiationAgreed},
	{from: dsp.NegotiationAgreed, msg: dsp.MsgContractAgreementVerification, receiver: dsp.RoleProvider, to: dsp.NegotiationVerified},
	{from: dsp.NegotiationVerified, msg: dsp.MsgContractEventFinalized, receiver: dsp.RoleConsumer, to: dsp.NegotiationFinalized},
}

// terminationMsg is handled separately: legal from any non-terminal state,
// for either receiving role, gated by the state_attribute rule.
const terminationMsg = dsp.MsgContractTermination

// Peer sends a composed outbound message to the counterpart connector.
type Peer interface {
	Send(ctx context.Context, participantID string, msg dsp.NegotiationMessage) error
}

// Message is one inbound protocol message handed to the engine.
type Message struct {
	Type          dsp.NegotiationMessageType
	ProviderPid   string
	ConsumerPid   string
	ReceiverRole  dsp.Role
	OfferContent  map[string]any
	OfferID       string
	AgreementContent map[string]any
	ConsumerParticipantID string
	ProviderParticipantID string
	Target        string
	TerminationCode   string
	TerminationReason string
	AssociatedPeer string
	CallbackAddress string
	Protocol      string
}

// Engine drives the CN state machine. It is a concrete type parameterized
// by the storage and collaborator boundaries, per the source's guidance to
// keep protocol messages as tagged enums and reserve interfaces for I/O.
type Engine struct {
	svc.Base
	stores storage.Transactor
	locker *svc.Locker
	policy collaborators.PolicyEvaluator
	peer   Peer
}

// New constructs a CN Engine. policy and peer may be nil; a nil policy
// accepts every offer/agreement, a nil peer makes Deliver return
// dsperr.KindPeerUnreachable (Handle never uses the peer).
func New(stores storage.Transactor, policy collaborators.PolicyEvaluator, peer Peer, base svc.Base) *Engine {
	if policy == nil {
		policy = collaborators.AllowAllPolicyEvaluator{}
	}
	return &Engine{Base: base, stores: stores, locker: svc.NewLocker(), policy: policy, peer: peer}
}

// Handle runs the full transition-handler contract (§4.2) for one inbound
// message, serialized per-process via the engine's Locker.
func (e *Engine) Handle(ctx context.Context, m Message) (dsp.NegotiationProcess, error) {
	var result dsp.NegotiationProcess
	err := e.Observe(ctx, "negotiation.handle", map[string]string{"message_type": string(m.Type)}, func(ctx context.Context) error {
		out, err := e.handle(ctx, m)
		result = out
		return err
	})
	return result, err
}

// Deliver hands an outbound message to the configured Peer. It is called by
// the ingress adapter once it has decided the reply for a transition — the
// engine never auto-retries this send (§4.2's failure semantics).
func (e *Engine) Deliver(ctx context.Context, participantID string, msg dsp.NegotiationMessage) error {
	if e.peer == nil {
		return dsperr.New(dsperr.KindPeerUnreachable, "no peer transport configured")
	}
	if err := e.peer.Send(ctx, participantID, msg); err != nil {
		return dsperr.Wrap(dsperr.KindPeerUnreachable, err, "deliver negotiation message")
	}
	return nil
}

func (e *Engine) handle(ctx context.Context, m Message) (dsp.NegotiationProcess, error) {
	// Step 1: correlation lookup.
	var (
		proc dsp.NegotiationProcess
		err  error
	)
	// A consumer may already name its own consumerPid on the opening message;
	// only the absence of a providerPid (which this side assigns) marks the
	// process as new.
	isInitial := m.Type == dsp.MsgContractRequest && m.ReceiverRole == dsp.RoleProvider && m.ProviderPid == ""

	if !isInitial && m.ConsumerPid == "" && m.ProviderPid == "" {
		return dsp.NegotiationProcess{}, dsperr.BadPayload("message carries neither providerPid nor consumerPid")
	}

	var processID string
	if !isInitial {
		pid := m.ConsumerPid
		if pid == "" {
			pid = m.ProviderPid
		}
		processID, err = e.lookupProcessID(ctx, pid)
		if err != nil {
			return dsp.NegotiationProcess{}, err
		}
	} else {
		// Process ids double as provider/consumer pids once a peer echoes them
		// back, so they must satisfy validateURNs like any wire-supplied pid.
		processID = "urn:uuid:" + uuid.NewString()
		// This side owns providerPid; record it now so later messages that
		// name only the providerPid still resolve via lookupProcessID.
		m.ProviderPid = processID
	}

	release := e.locker.Lock(processID)
	defer release()

	if !isInitial {
		proc, err = e.getNegotiation(ctx, processID)
		if err != nil {
			return dsp.NegotiationProcess{}, err
		}
	} else {
		proc = dsp.NegotiationProcess{
			ID:              processID,
			State:           "",
			Role:            dsp.RoleProvider,
			AssociatedPeer:  m.AssociatedPeer,
			Protocol:        m.Protocol,
			CallbackAddress: m.CallbackAddress,
			Properties:      map[string]any{},
		}
	}

	// Step 2: payload validation — URN shape and identifier-pair match.
	if err := validateURNs(m); err != nil {
		return dsp.NegotiationProcess{}, err
	}
	if !isInitial {
		if err := e.validateIdentifierMatch(ctx, processID, m); err != nil {
			return dsp.NegotiationProcess{}, err
		}
	}

	// Step 3: transition validation.
	edge, err := resolveTransition(proc.State, m.Type, m.ReceiverRole, proc.StateAttribute)
	if err != nil {
		return dsp.NegotiationProcess{}, err
	}

	// Step 4: policy hook (offers/agreements only).
	if subject := policySubject(m); subject != nil {
		decision, err := e.policy.Evaluate(ctx, subject)
		if err != nil {
			return dsp.NegotiationProcess{}, dsperr.Backend(err, "policy evaluator")
		}
		if !decision.Accepted {
			return dsp.NegotiationProcess{}, dsperr.PolicyRejected(decision.Reason)
		}
	}

	now := time.Now().UTC()
	proc.State = edge.to
	proc.UpdatedAt = now
	if proc.CreatedAt.IsZero() {
		proc.CreatedAt = now
	}
	if edge.symmetric {
		// Termination clears the attribute once applied; it was gating entry
		// into resolveTransition, not the resulting state.
		proc.StateAttribute = ""
	}

	msgRow := dsp.NegotiationMessage{
		ID:                  uuid.NewString(),
		ProcessID:           processID,
		Direction:           dsp.DirectionIn,
		Protocol:            m.Protocol,
		MessageType:         m.Type,
		StateTransitionFrom: edge.from,
		StateTransitionTo:   edge.to,
		Payload:             messagePayload(m),
		CreatedAt:           now,
	}

	// Step 5: persist in one transaction, detached from request cancellation
	// so a client disconnect cannot abort the commit.
	ctx = context.WithoutCancel(ctx)
	err = e.stores.WithinTx(ctx, func(s storage.Stores) error {
		if isInitial {
			if err := s.Negotiation.CreateNegotiation(ctx, proc); err != nil {
				return err
			}
		} else {
			if err := s.Negotiation.UpdateNegotiation(ctx, proc); err != nil {
				return err
			}
		}
		if err := s.NegotiationMessage.AppendNegotiationMessage(ctx, msgRow); err != nil {
			return err
		}
		if m.ProviderPid != "" || m.ConsumerPid != "" {
			if err := s.NegotiationIdentifier.PutIdentifiers(ctx, dsp.NegotiationProcessIdentifier{
				ProcessID:   processID,
				ProviderPid: m.ProviderPid,
				ConsumerPid: m.ConsumerPid,
			}); err != nil {
				return err
			}
		}
		if m.Type == dsp.MsgContractOffer {
			if err := s.Offer.CreateOffer(ctx, dsp.Offer{
				ID:           uuid.NewString(),
				ProcessID:    processID,
				MessageID:    msgRow.ID,
				OfferID:      m.OfferID,
				OfferContent: m.OfferContent,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}
		if m.Type == dsp.MsgContractAgreement {
			if err := s.Agreement.CreateAgreement(ctx, dsp.Agreement{
				ID:                    uuid.NewString(),
				ProcessID:             processID,
				MessageID:             msgRow.ID,
				ConsumerParticipantID: m.ConsumerParticipantID,
				ProviderParticipantID: m.ProviderParticipantID,
				AgreementContent:      m.AgreementContent,
				Target:                m.Target,
				State:                 dsp.AgreementActive,
				CreatedAt:             now,
				UpdatedAt:             now,
			}); err != nil {
				return err
			}
		}
		if m.Type == dsp.MsgContractEventFinalized {
			if ag, agErr := s.Agreement.GetAgreementByProcess(ctx, processID); agErr == nil {
				ag.State = dsp.AgreementFinalized
				ag.UpdatedAt = now
				if err := s.Agreement.UpdateAgreement(ctx, ag); err != nil {
					return err
				}
			}
		}
		if m.Type == dsp.MsgContractTermination {
			if ag, agErr := s.Agreement.GetAgreementByProcess(ctx, processID); agErr == nil {
				ag.State = dsp.AgreementTerminated
				ag.UpdatedAt = now
				if err := s.Agreement.UpdateAgreement(ctx, ag); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return dsp.NegotiationProcess{}, err
	}

	if proc.State.Terminal() {
		e.locker.Forget(processID)
	}

	// Step 6: outbound composition happens one layer up (the RPC/ingress
	// adapter decides whether to reply synchronously or via peer push); the
	// engine's obligation ends at handing back the authoritative new state.
	return proc, nil
}

func (e *Engine) lookupProcessID(ctx context.Context, pid string) (string, error) {
	var id string
	err := e.stores.WithinTx(ctx, func(s storage.Stores) error {
		found, err := s.NegotiationIdentifier.FindProcessIDByPid(ctx, pid)
		if err != nil {
			return err
		}
		id = found
		return nil
	})
	if err != nil {
		return "", dsperr.NotFound("negotiation process for pid %q", pid)
	}
	return id, nil
}

func (e *Engine) getNegotiation(ctx context.Context, id string) (dsp.NegotiationProcess, error) {
	var proc dsp.NegotiationProcess
	err := e.stores.WithinTx(ctx, func(s storage.Stores) error {
		p, err := s.Negotiation.GetNegotiation(ctx, id)
		if err != nil {
			return err
		}
		proc = p
		return nil
	})
	return proc, err
}

func (e *Engine) validateIdentifierMatch(ctx context.Context, processID string, m Message) error {
	var ids dsp.NegotiationProcessIdentifier
	err := e.stores.WithinTx(ctx, func(s storage.Stores) error {
		found, err := s.NegotiationIdentifier.GetIdentifiers(ctx, processID)
		if err != nil {
			return nil // no identifiers stored yet; nothing to match against
		}
		ids = found
		return nil
	})
	if err != nil {
		return dsperr.Backend(err, "load identifiers")
	}
	if ids.ProviderPid != "" && m.ProviderPid != "" && ids.ProviderPid != m.ProviderPid {
		return dsperr.BadPayload("providerPid mismatch for process %q", processID)
	}
	if ids.ConsumerPid != "" && m.ConsumerPid != "" && ids.ConsumerPid != m.ConsumerPid {
		return dsperr.BadPayload("consumerPid mismatch for process %q", processID)
	}
	return nil
}

func resolveTransition(from dsp.NegotiationState, msg dsp.NegotiationMessageType, role dsp.Role, attr dsp.Role) (transition, error) {
	if from.Terminal() {
		return transition{}, dsperr.ProtocolViolation("process already in terminal state %q", from)
	}
	if msg == terminationMsg {
		if from == "" {
			return transition{}, dsperr.ProtocolViolation("no process to terminate")
		}
		if attr != "" && attr != role {
			return transition{}, dsperr.ProtocolViolation("termination already in flight, initiated by %s", attr)
		}
		return transition{from: from, msg: msg, receiver: role, to: dsp.NegotiationTerminated, symmetric: true}, nil
	}
	for _, t := range table {
		if t.from == from && t.msg == msg && t.receiver == role {
			return t, nil
		}
	}
	return transition{}, dsperr.ProtocolViolation("illegal transition: from=%q message=%q role=%q", from, msg, role)
}

func validateURNs(m Message) error {
	if m.ProviderPid != "" && !looksLikeURN(m.ProviderPid) {
		return dsperr.BadPayload("providerPid is not a URN: %q", m.ProviderPid)
	}
	if m.ConsumerPid != "" && !looksLikeURN(m.ConsumerPid) {
		return dsperr.BadPayload("consumerPid is not a URN: %q", m.ConsumerPid)
	}
	return nil
}

func looksLikeURN(s string) bool {
	return len(s) > 4 && s[:4] == "urn:"
}

func policySubject(m Message) map[string]any {
	switch m.Type {
	case dsp.MsgContractOffer:
		return m.OfferContent
	case dsp.MsgContractAgreement:
		return m.AgreementContent
	default:
		return nil
	}
}

func messagePayload(m Message) map[string]any {
	payload := map[string]any{
		"providerPid": m.ProviderPid,
		"consumerPid": m.ConsumerPid,
	}
	if m.OfferContent != nil {
		payload["offer"] = m.OfferContent
	}
	if m.AgreementContent != nil {
		payload["agreement"] = m.AgreementContent
	}
	if m.TerminationCode != "" {
		payload["code"] = m.TerminationCode
	}
	if m.TerminationReason != "" {
		payload["reason"] = m.TerminationReason
	}
	return payload
}
