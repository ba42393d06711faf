// Package dataplane implements the Data Plane Coordinator (L3): allocates,
// authorizes, and tears down the byte-level transport for a STARTED
// TransferProcess, and proxies bytes per §4.4's HTTP reference contract.
package dataplane

import (
	"context"
	"time"

	svc "github.com/R3E-Network/service_layer/internal/app/core/service"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
)

// EndpointResolver resolves a transfer's upstream address: for PULL, from
// the associated agreement/distribution (via the Catalog collaborator);
// for PUSH, the caller already knows it (the consumer-supplied address).
type EndpointResolver interface {
	ResolveUpstream(ctx context.Context, transferID string) (string, error)
}

// Coordinator implements the transfer package's DataPlane interface plus the
// status query the proxy needs per request.
type Coordinator struct {
	svc.Base
	sessions storage.DataPlaneSessionStore
	events   storage.TransferEventStore
	locker   *svc.Locker
	resolver EndpointResolver
}

// New constructs a Coordinator.
func New(sessions storage.DataPlaneSessionStore, events storage.TransferEventStore, resolver EndpointResolver, base svc.Base) *Coordinator {
	return &Coordinator{Base: base, sessions: sessions, events: events, locker: svc.NewLocker(), resolver: resolver}
}

// Provision creates a DataPlaneSession for the given transfer and moves it
// straight to STARTED via start, returning the started session.
func (c *Coordinator) Provision(ctx context.Context, transferID string, direction dsp.TransferDirection, consumerDataAddress string) (dsp.DataPlaneSession, error) {
	release := c.locker.Lock(transferID)
	defer release()

	upstream := consumerDataAddress
	if direction == dsp.TransferPull && c.resolver != nil {
		resolved, err := c.resolver.ResolveUpstream(ctx, transferID)
		if err != nil {
			return dsp.DataPlaneSession{}, dsperr.Backend(err, "resolve upstream endpoint")
		}
		upstream = resolved
	}

	now := time.Now().UTC()
	sess := dsp.DataPlaneSession{
		ID:              transferID,
		Direction:       direction,
		State:           dsp.SessionRequested,
		UpstreamAddress: upstream,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	switch direction {
	case dsp.TransferPull:
		sess.SessionAddress = "/data/pull/" + transferID
	case dsp.TransferPush:
		sess.SessionAddress = "/data/push/" + transferID
	}

	if err := c.sessions.CreateSession(ctx, sess); err != nil {
		return dsp.DataPlaneSession{}, dsperr.Backend(err, "create data plane session")
	}
	return c.start(ctx, sess)
}

// start transitions the freshly-provisioned session straight to STARTED:
// the TP engine only calls Provision once it is ready to honor proxy
// traffic immediately (§4.3's REQUESTED→STARTED obligation).
func (c *Coordinator) start(ctx context.Context, sess dsp.DataPlaneSession) (dsp.DataPlaneSession, error) {
	sess.State = dsp.SessionStarted
	sess.UpdatedAt = time.Now().UTC()
	if err := c.sessions.UpdateSession(ctx, sess); err != nil {
		return dsp.DataPlaneSession{}, dsperr.Backend(err, "start data plane session")
	}
	return sess, nil
}

// Suspend pauses the session; subsequent proxy requests return Unauthorized.
func (c *Coordinator) Suspend(ctx context.Context, sessionID string) error {
	release := c.locker.Lock(sessionID)
	defer release()

	sess, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.State = dsp.SessionSuspended
	sess.UpdatedAt = time.Now().UTC()
	if err := c.sessions.UpdateSession(ctx, sess); err != nil {
		return dsperr.Backend(err, "suspend data plane session")
	}
	return nil
}

// Resume reverses Suspend, matching the TP engine's SUSPENDED→STARTED edge.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) error {
	release := c.locker.Lock(sessionID)
	defer release()

	sess, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.State = dsp.SessionStarted
	sess.UpdatedAt = time.Now().UTC()
	if err := c.sessions.UpdateSession(ctx, sess); err != nil {
		return dsperr.Backend(err, "resume data plane session")
	}
	return nil
}

// Stop tears the session down; subsequent requests return not-authorized.
func (c *Coordinator) Stop(ctx context.Context, sessionID string) error {
	release := c.locker.Lock(sessionID)
	defer release()

	sess, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if dsperr.As(err).Kind == dsperr.KindNotFound {
			return nil
		}
		return err
	}
	sess.State = dsp.SessionStopped
	sess.UpdatedAt = time.Now().UTC()
	if err := c.sessions.UpdateSession(ctx, sess); err != nil {
		return dsperr.Backend(err, "stop data plane session")
	}
	c.locker.Forget(sessionID)
	return nil
}

// Status returns the current session state.
func (c *Coordinator) Status(ctx context.Context, sessionID string) (dsp.DataPlaneSession, error) {
	return c.sessions.GetSession(ctx, sessionID)
}

// RecordEvent appends an audit-log entry summarizing a proxied hop.
func (c *Coordinator) RecordEvent(ctx context.Context, sessionID, from, to string, payload map[string]any) error {
	return c.events.AppendEvent(ctx, dsp.TransferEvent{
		SessionID: sessionID,
		From:      from,
		To:        to,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
