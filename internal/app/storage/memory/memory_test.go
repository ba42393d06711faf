package memory

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
)

func TestCreateNegotiationRejectsDuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := dsp.NegotiationProcess{ID: "urn:uuid:1", State: dsp.NegotiationRequested}
	if err := s.CreateNegotiation(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateNegotiation(ctx, p); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
}

func TestNegotiationRoundTripIsIsolatedFromCallerMutation(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := dsp.NegotiationProcess{ID: "urn:uuid:2", State: dsp.NegotiationRequested, Properties: map[string]any{"k": "v"}}
	if err := s.CreateNegotiation(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	p.Properties["k"] = "mutated"

	got, err := s.GetNegotiation(ctx, "urn:uuid:2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Properties["k"] != "v" {
		t.Fatalf("expected stored copy to be unaffected by caller mutation, got %q", got.Properties["k"])
	}
}

func TestPutIdentifiersIndexesBothPidsAndFindProcessIDByPid(t *testing.T) {
	s := New()
	ctx := context.Background()
	ids := dsp.NegotiationProcessIdentifier{ProcessID: "urn:uuid:3", ProviderPid: "urn:uuid:3", ConsumerPid: "urn:uuid:consumer-3"}
	if err := s.PutIdentifiers(ctx, ids); err != nil {
		t.Fatalf("put identifiers: %v", err)
	}

	for _, pid := range []string{"urn:uuid:3", "urn:uuid:consumer-3"} {
		got, err := s.FindProcessIDByPid(ctx, pid)
		if err != nil {
			t.Fatalf("find by pid %q: %v", pid, err)
		}
		if got != "urn:uuid:3" {
			t.Fatalf("expected process id urn:uuid:3, got %q", got)
		}
	}
}

func TestFindProcessIDByPidNotFound(t *testing.T) {
	s := New()
	if _, err := s.FindProcessIDByPid(context.Background(), "urn:uuid:missing"); dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteNegotiationCascadesIdentifiersOffersAndAgreement(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid := "urn:uuid:4"
	if err := s.CreateNegotiation(ctx, dsp.NegotiationProcess{ID: pid, State: dsp.NegotiationRequested}); err != nil {
		t.Fatalf("create negotiation: %v", err)
	}
	if err := s.PutIdentifiers(ctx, dsp.NegotiationProcessIdentifier{ProcessID: pid, ProviderPid: pid, ConsumerPid: pid}); err != nil {
		t.Fatalf("put identifiers: %v", err)
	}
	if err := s.CreateOffer(ctx, dsp.Offer{ID: "urn:offer:1", ProcessID: pid}); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := s.CreateAgreement(ctx, dsp.Agreement{ID: "urn:agreement:4", ProcessID: pid, State: dsp.AgreementActive}); err != nil {
		t.Fatalf("create agreement: %v", err)
	}

	if err := s.DeleteNegotiation(ctx, pid); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetNegotiation(ctx, pid); dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected negotiation to be gone, got %v", err)
	}
	if _, err := s.FindProcessIDByPid(ctx, pid); dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected pid index entry to be gone, got %v", err)
	}
	if _, err := s.GetAgreementByProcess(ctx, pid); dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected agreement to be gone, got %v", err)
	}
	offers, err := s.ListOffers(ctx, pid)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("expected offers to be cleared, got %d", len(offers))
	}
}

func TestLatestOfferPicksMostRecentlyCreated(t *testing.T) {
	s := New()
	ctx := context.Background()
	pid := "urn:uuid:5"
	base := time.Now().UTC()
	if err := s.CreateOffer(ctx, dsp.Offer{ID: "urn:offer:old", ProcessID: pid, CreatedAt: base}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateOffer(ctx, dsp.Offer{ID: "urn:offer:new", ProcessID: pid, CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	latest, err := s.LatestOffer(ctx, pid)
	if err != nil {
		t.Fatalf("latest offer: %v", err)
	}
	if latest.ID != "urn:offer:new" {
		t.Fatalf("expected urn:offer:new, got %q", latest.ID)
	}
}

func TestListNegotiationsOrdersByCreationAndPaginates(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"urn:uuid:a", "urn:uuid:b", "urn:uuid:c"} {
		if err := s.CreateNegotiation(ctx, dsp.NegotiationProcess{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.ListNegotiations(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "urn:uuid:a" || all[2].ID != "urn:uuid:c" {
		t.Fatalf("unexpected order: %+v", all)
	}

	page, err := s.ListNegotiations(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "urn:uuid:b" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestUpdateNegotiationRequiresExistingRow(t *testing.T) {
	s := New()
	err := s.UpdateNegotiation(context.Background(), dsp.NegotiationProcess{ID: "urn:uuid:missing"})
	if dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestWithinTxExposesAllStoresAgainstSharedState(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(stores storage.Stores) error {
		return stores.Negotiation.CreateNegotiation(ctx, dsp.NegotiationProcess{ID: "urn:uuid:tx"})
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if _, err := s.GetNegotiation(ctx, "urn:uuid:tx"); err != nil {
		t.Fatalf("expected the transaction's write to be visible: %v", err)
	}
}

func TestDeleteSessionClearsEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateSession(ctx, dsp.DataPlaneSession{ID: "urn:transfer:1", State: dsp.SessionStarted}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.AppendEvent(ctx, dsp.TransferEvent{SessionID: "urn:transfer:1", From: "GET", To: "200"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.DeleteSession(ctx, "urn:transfer:1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	events, err := s.ListEvents(ctx, "urn:transfer:1", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events to be cleared with the session, got %d", len(events))
	}
}
