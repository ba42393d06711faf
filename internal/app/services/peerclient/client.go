// Package peerclient delivers outbound protocol messages to a dataspace
// counterpart over HTTP, resolving the destination via the MateDirectory
// collaborator.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/service_layer/internal/app/collaborators"
	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Client posts outbound DSP messages to a resolved peer's callback path.
type Client struct {
	http  *http.Client
	mates collaborators.MateDirectory
	log   *logger.Logger
}

// New constructs a Client. A nil http.Client defaults to a 10-second timeout.
func New(client *http.Client, mates collaborators.MateDirectory, log *logger.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("peerclient")
	}
	return &Client{http: client, mates: mates, log: log}
}

func (c *Client) post(ctx context.Context, participantID, path string, body any) error {
	if c.mates == nil {
		return fmt.Errorf("peerclient: no mate directory configured")
	}
	peer, err := c.mates.ResolvePeer(ctx, participantID)
	if err != nil {
		return fmt.Errorf("resolve peer %q: %w", participantID, err)
	}
	return c.postTo(ctx, peer.BaseURL, peer.Token, path, body)
}

// DeliverTo posts body to baseURL+path directly, bypassing MateDirectory
// resolution. The HTTP handler does not call it: its local RPC routes
// register the destination in the mate directory and deliver through it.
func (c *Client) DeliverTo(ctx context.Context, baseURL, path string, body any) error {
	return c.postTo(ctx, baseURL, "", path, body)
}

func (c *Client) postTo(ctx context.Context, baseURL, token, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s responded %d", url, resp.StatusCode)
	}
	return nil
}

// NegotiationPeer adapts Client to negotiation.Peer.
type NegotiationPeer struct{ *Client }

func (p NegotiationPeer) Send(ctx context.Context, participantID string, msg dsp.NegotiationMessage) error {
	return p.post(ctx, participantID, "/negotiations/"+msg.ProcessID+"/events", msg)
}

// TransferPeer adapts Client to transfer.Peer.
type TransferPeer struct{ *Client }

func (p TransferPeer) Send(ctx context.Context, participantID string, msg dsp.TransferMessage) error {
	return p.post(ctx, participantID, "/transfers/"+msg.ProcessID, msg)
}
