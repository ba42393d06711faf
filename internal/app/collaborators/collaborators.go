// Package collaborators declares the connector's external-service
// boundaries — catalog, policy evaluation, peer resolution, and wallet
// signing — each deliberately left out of the core per the system's scope,
// with stub implementations suitable for standalone operation and tests.
package collaborators

import "context"

// Decision is the outcome of a PolicyEvaluator call.
type Decision struct {
	Accepted bool
	Reason   string
}

// PolicyEvaluator delegates ODRL offer/agreement content to an external
// policy decision point. The CN engine calls this synchronously from its
// transition handler's policy-hook step; the TP engine does not use it.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, subject map[string]any) (Decision, error)
}

// CatalogEndpoint is the upstream address and auth material L3 resolves an
// agreement's target dataset to.
type CatalogEndpoint struct {
	EndpointURL string
	Auth        string
}

// Catalog resolves offers and agreements to concrete dataset endpoints. It
// is the dataspace's DCAT-backed discovery service, consumed but not
// implemented here.
type Catalog interface {
	ResolveOffer(ctx context.Context, offerID string) (map[string]any, error)
	ResolveEndpoint(ctx context.Context, agreementID string) (CatalogEndpoint, error)
}

// Peer is the base URL and bearer token used to reach a mate's DSP endpoints.
type Peer struct {
	BaseURL string
	Token   string
}

// MateDirectory resolves a dataspace participant id to its reachable peer.
type MateDirectory interface {
	ResolvePeer(ctx context.Context, participantID string) (Peer, error)
}

// Wallet signs outbound protocol payloads and verifies inbound verifiable
// credentials. Left as an external collaborator: see the GNAP/SSI
// resolution in the auth design notes.
type Wallet interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	Verify(ctx context.Context, credential []byte) (bool, error)
}
