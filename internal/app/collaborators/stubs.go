package collaborators

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// AllowAllPolicyEvaluator accepts every offer and agreement. It is the
// default when no policy decision point is configured, matching the
// engine's treatment of the hook as optional.
type AllowAllPolicyEvaluator struct{}

func (AllowAllPolicyEvaluator) Evaluate(context.Context, map[string]any) (Decision, error) {
	return Decision{Accepted: true}, nil
}

// NoopWallet performs no cryptography; it returns the payload unsigned and
// treats every credential as verified. Suitable only when the dataspace's
// trust model is enforced elsewhere (e.g. mutual TLS at the mate directory).
type NoopWallet struct{}

func (NoopWallet) Sign(_ context.Context, payload []byte) ([]byte, error) { return payload, nil }
func (NoopWallet) Verify(context.Context, []byte) (bool, error)           { return true, nil }

// StaticCatalog answers ResolveOffer/ResolveEndpoint from an in-memory map,
// seeded at construction. It stands in for the dataspace catalog service.
type StaticCatalog struct {
	mu        sync.RWMutex
	offers    map[string]map[string]any
	endpoints map[string]CatalogEndpoint
}

// NewStaticCatalog constructs an empty catalog; Seed populates it.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		offers:    make(map[string]map[string]any),
		endpoints: make(map[string]CatalogEndpoint),
	}
}

// SeedOffer registers an offer's content under offerID.
func (c *StaticCatalog) SeedOffer(offerID string, content map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[offerID] = content
}

// SeedEndpoint registers the upstream endpoint an agreement resolves to.
func (c *StaticCatalog) SeedEndpoint(agreementID string, ep CatalogEndpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[agreementID] = ep
}

func (c *StaticCatalog) ResolveOffer(_ context.Context, offerID string) (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.offers[offerID]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown offer %q", offerID)
	}
	return content, nil
}

func (c *StaticCatalog) ResolveEndpoint(_ context.Context, agreementID string) (CatalogEndpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.endpoints[agreementID]
	if !ok {
		return CatalogEndpoint{}, fmt.Errorf("catalog: unknown agreement %q", agreementID)
	}
	return ep, nil
}

// mateDirectoryFile is the YAML shape loaded by StaticMateDirectory —
// one entry per known participant.
type mateDirectoryFile struct {
	Participants []struct {
		ID      string `yaml:"id"`
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"participants"`
}

// StaticMateDirectory resolves participant ids from a YAML-seeded table,
// standing in for a dataspace-wide participant registry.
type StaticMateDirectory struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// NewStaticMateDirectory constructs an empty directory.
func NewStaticMateDirectory() *StaticMateDirectory {
	return &StaticMateDirectory{peers: make(map[string]Peer)}
}

// LoadFile reads participant entries from a YAML file at path and merges
// them into the directory. A missing path is not an error: the directory
// starts empty and entries can still be added via Put.
func (d *StaticMateDirectory) LoadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("mate directory: read %s: %w", path, err)
	}
	var doc mateDirectoryFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("mate directory: parse %s: %w", path, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range doc.Participants {
		d.peers[p.ID] = Peer{BaseURL: p.BaseURL, Token: p.Token}
	}
	return nil
}

// Put registers or replaces a participant's peer entry.
func (d *StaticMateDirectory) Put(participantID string, peer Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[participantID] = peer
}

func (d *StaticMateDirectory) ResolvePeer(_ context.Context, participantID string) (Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[participantID]
	if !ok {
		return Peer{}, fmt.Errorf("mate directory: unknown participant %q", participantID)
	}
	return p, nil
}
