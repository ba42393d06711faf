package transfer

import (
	"context"
	"testing"

	core "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/services/dataplane"
	"github.com/R3E-Network/service_layer/internal/app/storage/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	coordinator := dataplane.New(store, store, nil, core.NewBase(core.NoopTracer, nil))
	agreementID := "urn:agreement:1"
	if err := store.CreateAgreement(context.Background(), dsp.Agreement{
		ID:    agreementID,
		State: dsp.AgreementFinalized,
	}); err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	return New(store, store, coordinator, nil, core.NewBase(core.NoopTracer, nil)), store, agreementID
}

func TestTransferRequestProvisionsOnStart(t *testing.T) {
	e, _, agreementID := newTestEngine(t)
	ctx := context.Background()

	proc, err := e.Handle(ctx, Message{Type: dsp.MsgTransferRequest, AgreementID: agreementID, Direction: dsp.TransferPull})
	if err != nil {
		t.Fatalf("transfer-request: %v", err)
	}
	if proc.State != dsp.TransferRequested {
		t.Fatalf("expected REQUESTED, got %q", proc.State)
	}
	if proc.DataPlaneSessionID != "" {
		t.Fatalf("expected no data plane session before start")
	}

	proc, err = e.Handle(ctx, Message{Type: dsp.MsgTransferStart, ProcessID: proc.ID})
	if err != nil {
		t.Fatalf("transfer-start: %v", err)
	}
	if proc.State != dsp.TransferStarted {
		t.Fatalf("expected STARTED, got %q", proc.State)
	}
	if proc.DataPlaneSessionID == "" {
		t.Fatalf("expected a data plane session to be provisioned")
	}
}

func TestTransferRequestRejectsNonFinalizedAgreement(t *testing.T) {
	for _, tc := range []struct {
		name  string
		state dsp.AgreementState
	}{
		{name: "terminated", state: dsp.AgreementTerminated},
		{name: "active but not yet finalized", state: dsp.AgreementActive},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			coordinator := dataplane.New(store, store, nil, core.NewBase(core.NoopTracer, nil))
			if err := store.CreateAgreement(context.Background(), dsp.Agreement{ID: "urn:agreement:2", State: tc.state}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			e := New(store, store, coordinator, nil, core.NewBase(core.NoopTracer, nil))

			_, err := e.Handle(context.Background(), Message{Type: dsp.MsgTransferRequest, AgreementID: "urn:agreement:2", Direction: dsp.TransferPull})
			if err == nil {
				t.Fatalf("expected non-finalized agreement to be rejected")
			}
			if dsperr.As(err).Kind != dsperr.KindProtocolViolation {
				t.Fatalf("expected ProtocolViolation, got %v", dsperr.As(err).Kind)
			}
		})
	}
}

func TestPushTransferRequiresConsumerDataAddress(t *testing.T) {
	e, _, agreementID := newTestEngine(t)
	_, err := e.Handle(context.Background(), Message{Type: dsp.MsgTransferRequest, AgreementID: agreementID, Direction: dsp.TransferPush})
	if err == nil {
		t.Fatalf("expected missing consumer data address to be rejected")
	}
	if dsperr.As(err).Kind != dsperr.KindBadPayload {
		t.Fatalf("expected BadPayload, got %v", dsperr.As(err).Kind)
	}
}

func TestSuspendThenResumeCyclesDataPlaneSession(t *testing.T) {
	e, store, agreementID := newTestEngine(t)
	ctx := context.Background()

	proc, err := e.Handle(ctx, Message{Type: dsp.MsgTransferRequest, AgreementID: agreementID, Direction: dsp.TransferPull})
	if err != nil {
		t.Fatalf("transfer-request: %v", err)
	}
	proc, err = e.Handle(ctx, Message{Type: dsp.MsgTransferStart, ProcessID: proc.ID})
	if err != nil {
		t.Fatalf("transfer-start: %v", err)
	}

	proc, err = e.Handle(ctx, Message{Type: dsp.MsgTransferSuspension, ProcessID: proc.ID, ReceiverRole: dsp.RoleProvider})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if proc.State != dsp.TransferSuspended {
		t.Fatalf("expected SUSPENDED, got %q", proc.State)
	}
	sess, err := store.GetSession(ctx, proc.DataPlaneSessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != dsp.SessionSuspended {
		t.Fatalf("expected session SUSPENDED, got %q", sess.State)
	}

	// The suspension recorded Provider as the attribute: a start received by
	// that same role is rejected; the peer role may resume.
	_, err = e.Handle(ctx, Message{Type: dsp.MsgTransferStart, ProcessID: proc.ID, ReceiverRole: dsp.RoleProvider})
	if err == nil {
		t.Fatalf("expected same-role resume to be rejected while attribute is set")
	}

	proc, err = e.Handle(ctx, Message{Type: dsp.MsgTransferStart, ProcessID: proc.ID, ReceiverRole: dsp.RoleConsumer})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if proc.State != dsp.TransferStarted {
		t.Fatalf("expected STARTED after resume, got %q", proc.State)
	}
	sess, err = store.GetSession(ctx, proc.DataPlaneSessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != dsp.SessionStarted {
		t.Fatalf("expected session STARTED after resume, got %q", sess.State)
	}
}

func TestCompletionStopsDataPlaneSession(t *testing.T) {
	e, store, agreementID := newTestEngine(t)
	ctx := context.Background()

	proc, err := e.Handle(ctx, Message{Type: dsp.MsgTransferRequest, AgreementID: agreementID, Direction: dsp.TransferPull})
	if err != nil {
		t.Fatalf("transfer-request: %v", err)
	}
	proc, err = e.Handle(ctx, Message{Type: dsp.MsgTransferStart, ProcessID: proc.ID})
	if err != nil {
		t.Fatalf("transfer-start: %v", err)
	}
	proc, err = e.Handle(ctx, Message{Type: dsp.MsgTransferCompletion, ProcessID: proc.ID})
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if proc.State != dsp.TransferCompleted {
		t.Fatalf("expected COMPLETED, got %q", proc.State)
	}
	sess, err := store.GetSession(ctx, proc.DataPlaneSessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != dsp.SessionStopped {
		t.Fatalf("expected session STOPPED after completion, got %q", sess.State)
	}
}
