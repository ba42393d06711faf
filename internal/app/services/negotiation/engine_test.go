package negotiation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/internal/app/collaborators"
	core "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage/memory"
)

func newTestEngine() *Engine {
	return New(memory.New(), nil, nil, core.NewBase(core.NoopTracer, nil))
}

func TestHandleContractRequestCreatesProcess(t *testing.T) {
	e := newTestEngine()
	proc, err := e.Handle(context.Background(), Message{
		Type:           dsp.MsgContractRequest,
		ReceiverRole:   dsp.RoleProvider,
		AssociatedPeer: "urn:connector:consumer",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if proc.State != dsp.NegotiationRequested {
		t.Fatalf("expected REQUESTED, got %q", proc.State)
	}
	if proc.ID == "" {
		t.Fatalf("expected a process id to be assigned")
	}
}

func TestFullHappyPathReachesFinalized(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	proc, err := e.Handle(ctx, Message{Type: dsp.MsgContractRequest, ReceiverRole: dsp.RoleProvider})
	require.NoError(t, err)
	pid := proc.ID

	steps := []struct {
		name string
		msg  Message
		want dsp.NegotiationState
	}{
		{
			name: "contract-offer",
			msg: Message{
				Type: dsp.MsgContractOffer, ReceiverRole: dsp.RoleConsumer, ProviderPid: pid, ConsumerPid: pid,
				OfferContent: map[string]any{"@type": "Offer"}, OfferID: "urn:offer:1",
			},
			want: dsp.NegotiationOffered,
		},
		{
			name: "contract-event-accepted",
			msg:  Message{Type: dsp.MsgContractEventAccepted, ReceiverRole: dsp.RoleProvider, ProviderPid: pid, ConsumerPid: pid},
			want: dsp.NegotiationAccepted,
		},
		{
			name: "contract-agreement",
			msg: Message{
				Type: dsp.MsgContractAgreement, ReceiverRole: dsp.RoleConsumer, ProviderPid: pid, ConsumerPid: pid,
				AgreementContent: map[string]any{"@type": "Agreement"},
			},
			want: dsp.NegotiationAgreed,
		},
		{
			name: "verification",
			msg:  Message{Type: dsp.MsgContractAgreementVerification, ReceiverRole: dsp.RoleProvider, ProviderPid: pid, ConsumerPid: pid},
			want: dsp.NegotiationVerified,
		},
		{
			name: "finalized",
			msg:  Message{Type: dsp.MsgContractEventFinalized, ReceiverRole: dsp.RoleConsumer, ProviderPid: pid, ConsumerPid: pid},
			want: dsp.NegotiationFinalized,
		},
	}
	for _, step := range steps {
		proc, err = e.Handle(ctx, step.msg)
		require.NoError(t, err, step.name)
		require.Equal(t, step.want, proc.State, step.name)
	}

	// Terminal states accept no further transitions.
	_, err = e.Handle(ctx, Message{Type: dsp.MsgContractTermination, ReceiverRole: dsp.RoleProvider, ProviderPid: pid, ConsumerPid: pid})
	require.Equal(t, dsperr.KindProtocolViolation, dsperr.As(err).Kind)
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	proc, err := e.Handle(ctx, Message{Type: dsp.MsgContractRequest, ReceiverRole: dsp.RoleProvider})
	if err != nil {
		t.Fatalf("contract-request: %v", err)
	}

	_, err = e.Handle(ctx, Message{Type: dsp.MsgContractAgreement, ReceiverRole: dsp.RoleConsumer, ProviderPid: proc.ID, ConsumerPid: proc.ID})
	if err == nil {
		t.Fatalf("expected illegal transition to be rejected")
	}
	if dsperr.As(err).Kind != dsperr.KindProtocolViolation {
		t.Fatalf("expected ProtocolViolation, got %v", dsperr.As(err).Kind)
	}
}

func TestTerminationIsSymmetricAndClearsAttribute(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	proc, err := e.Handle(ctx, Message{Type: dsp.MsgContractRequest, ReceiverRole: dsp.RoleProvider})
	if err != nil {
		t.Fatalf("contract-request: %v", err)
	}
	pid := proc.ID

	proc, err = e.Handle(ctx, Message{Type: dsp.MsgContractTermination, ReceiverRole: dsp.RoleConsumer, ProviderPid: pid, ConsumerPid: pid, TerminationCode: "urn:code:cancelled"})
	if err != nil {
		t.Fatalf("termination: %v", err)
	}
	if proc.State != dsp.NegotiationTerminated {
		t.Fatalf("expected TERMINATED, got %q", proc.State)
	}
	if proc.StateAttribute != "" {
		t.Fatalf("expected state attribute cleared after termination, got %q", proc.StateAttribute)
	}

	// Terminal: any further message is rejected.
	_, err = e.Handle(ctx, Message{Type: dsp.MsgContractTermination, ReceiverRole: dsp.RoleProvider, ProviderPid: pid, ConsumerPid: pid})
	if dsperr.As(err).Kind != dsperr.KindProtocolViolation {
		t.Fatalf("expected ProtocolViolation after terminal, got %v", err)
	}
}

func TestNonURNPidIsRejected(t *testing.T) {
	e := newTestEngine()
	_, err := e.Handle(context.Background(), Message{
		Type: dsp.MsgContractOffer, ReceiverRole: dsp.RoleConsumer, ProviderPid: "not-a-urn", ConsumerPid: "not-a-urn",
	})
	if err == nil {
		t.Fatalf("expected non-URN pid to be rejected")
	}
	if dsperr.As(err).Kind != dsperr.KindBadPayload {
		t.Fatalf("expected BadPayload, got %v", dsperr.As(err).Kind)
	}
}

func TestUnknownPidReturnsNotFound(t *testing.T) {
	e := newTestEngine()
	_, err := e.Handle(context.Background(), Message{
		Type: dsp.MsgContractOffer, ReceiverRole: dsp.RoleConsumer, ProviderPid: "urn:uuid:does-not-exist", ConsumerPid: "urn:uuid:does-not-exist",
	})
	if err == nil {
		t.Fatalf("expected unknown pid to fail")
	}
	if dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", dsperr.As(err).Kind)
	}
}

type rejectingPolicy struct{ reason string }

func (r rejectingPolicy) Evaluate(context.Context, map[string]any) (collaborators.Decision, error) {
	return collaborators.Decision{Accepted: false, Reason: r.reason}, nil
}

func TestPolicyRejectionBlocksOffer(t *testing.T) {
	e := New(memory.New(), rejectingPolicy{reason: "embargoed dataset"}, nil, core.NewBase(core.NoopTracer, nil))
	ctx := context.Background()
	proc, err := e.Handle(ctx, Message{Type: dsp.MsgContractRequest, ReceiverRole: dsp.RoleProvider})
	if err != nil {
		t.Fatalf("contract-request: %v", err)
	}

	_, err = e.Handle(ctx, Message{
		Type: dsp.MsgContractOffer, ReceiverRole: dsp.RoleConsumer, ProviderPid: proc.ID, ConsumerPid: proc.ID,
		OfferContent: map[string]any{"@type": "Offer"},
	})
	if err == nil {
		t.Fatalf("expected policy rejection to block the offer")
	}
	if dsperr.As(err).Kind != dsperr.KindPolicyRejected {
		t.Fatalf("expected PolicyRejected, got %v", dsperr.As(err).Kind)
	}
}
