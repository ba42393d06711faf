package dataplane

import (
	"context"
	"testing"

	core "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage/memory"
)

type staticResolver struct{ endpoint string }

func (r staticResolver) ResolveUpstream(context.Context, string) (string, error) {
	return r.endpoint, nil
}

func TestProvisionPullSessionResolvesUpstream(t *testing.T) {
	store := memory.New()
	c := New(store, store, staticResolver{endpoint: "https://provider.example/dist/1"}, core.NewBase(core.NoopTracer, nil))

	sess, err := c.Provision(context.Background(), "urn:transfer:1", dsp.TransferPull, "")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if sess.State != dsp.SessionStarted {
		t.Fatalf("expected session to start immediately, got %q", sess.State)
	}
	if sess.UpstreamAddress != "https://provider.example/dist/1" {
		t.Fatalf("expected resolver's upstream, got %q", sess.UpstreamAddress)
	}
	if sess.SessionAddress != "/data/pull/urn:transfer:1" {
		t.Fatalf("unexpected session address: %q", sess.SessionAddress)
	}
}

func TestProvisionPushSessionUsesConsumerAddress(t *testing.T) {
	store := memory.New()
	c := New(store, store, nil, core.NewBase(core.NoopTracer, nil))

	sess, err := c.Provision(context.Background(), "urn:transfer:2", dsp.TransferPush, "https://consumer.example/sink")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if sess.UpstreamAddress != "https://consumer.example/sink" {
		t.Fatalf("expected consumer-supplied address as upstream, got %q", sess.UpstreamAddress)
	}
	if sess.SessionAddress != "/data/push/urn:transfer:2" {
		t.Fatalf("unexpected session address: %q", sess.SessionAddress)
	}
}

func TestSuspendResumeStopCycleSession(t *testing.T) {
	store := memory.New()
	c := New(store, store, nil, core.NewBase(core.NoopTracer, nil))
	ctx := context.Background()

	sess, err := c.Provision(ctx, "urn:transfer:3", dsp.TransferPull, "https://upstream.example")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	if err := c.Suspend(ctx, sess.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	got, err := c.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.State != dsp.SessionSuspended {
		t.Fatalf("expected SUSPENDED, got %q", got.State)
	}

	if err := c.Resume(ctx, sess.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, err = c.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.State != dsp.SessionStarted {
		t.Fatalf("expected STARTED after resume, got %q", got.State)
	}

	if err := c.Stop(ctx, sess.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, err = c.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.State != dsp.SessionStopped {
		t.Fatalf("expected STOPPED, got %q", got.State)
	}
}

func TestStopIsIdempotentOnMissingSession(t *testing.T) {
	store := memory.New()
	c := New(store, store, nil, core.NewBase(core.NoopTracer, nil))
	if err := c.Stop(context.Background(), "urn:transfer:does-not-exist"); err != nil {
		t.Fatalf("expected stop of unknown session to be a no-op, got %v", err)
	}
}

func TestResumeUnknownSessionNotFound(t *testing.T) {
	store := memory.New()
	c := New(store, store, nil, core.NewBase(core.NoopTracer, nil))
	err := c.Resume(context.Background(), "urn:transfer:does-not-exist")
	if err == nil {
		t.Fatalf("expected resume of unknown session to fail")
	}
	if dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", dsperr.As(err).Kind)
	}
}

func TestRecordEventAppendsToAuditLog(t *testing.T) {
	store := memory.New()
	c := New(store, store, nil, core.NewBase(core.NoopTracer, nil))
	ctx := context.Background()

	sess, err := c.Provision(ctx, "urn:transfer:4", dsp.TransferPull, "https://upstream.example")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := c.RecordEvent(ctx, sess.ID, "GET", "200", nil); err != nil {
		t.Fatalf("record event: %v", err)
	}
	events, err := store.ListEvents(ctx, sess.ID, 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].From != "GET" || events[0].To != "200" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
