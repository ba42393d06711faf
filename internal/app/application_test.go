package app

import (
	"context"
	"testing"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/services/negotiation"
)

func TestApplicationLifecycle(t *testing.T) {
	application, err := New(NewMemoryBackendForTest(), Collaborators{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	proc, err := application.Negotiation.Handle(ctx, negotiationRequest())
	if err != nil {
		t.Fatalf("handle contract request: %v", err)
	}
	if proc.State != dsp.NegotiationRequested {
		t.Fatalf("expected REQUESTED, got %q", proc.State)
	}

	descriptors := application.Descriptors()
	if len(descriptors) == 0 {
		t.Fatalf("expected at least one service descriptor")
	}

	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func negotiationRequest() negotiation.Message {
	return negotiation.Message{
		Type:            dsp.MsgContractRequest,
		ReceiverRole:    dsp.RoleProvider,
		Protocol:        "dataspace-protocol-http",
		AssociatedPeer:  "urn:connector:consumer",
		CallbackAddress: "https://consumer.example/callback",
	}
}
