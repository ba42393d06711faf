package dataplane

import (
	"context"
	"time"

	svc "github.com/R3E-Network/service_layer/internal/app/core/service"

	"github.com/R3E-Network/service_layer/internal/app/collaborators"
	"github.com/R3E-Network/service_layer/internal/app/storage"
)

// catalogRetryPolicy governs CatalogResolver's lookup of the catalog
// collaborator. ResolveEndpoint is read-only and idempotent, unlike the
// outbound DSP peer sends the engines make, so retrying it on failure is
// safe.
var catalogRetryPolicy = svc.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2,
}

// CatalogResolver implements EndpointResolver by looking up the transfer's
// agreement and asking the Catalog collaborator for its distribution
// endpoint, per §6's resolve_endpoint(agreement_id) contract.
type CatalogResolver struct {
	transfers storage.TransferStore
	catalog   collaborators.Catalog
}

// NewCatalogResolver constructs a CatalogResolver.
func NewCatalogResolver(transfers storage.TransferStore, catalog collaborators.Catalog) *CatalogResolver {
	return &CatalogResolver{transfers: transfers, catalog: catalog}
}

func (r *CatalogResolver) ResolveUpstream(ctx context.Context, transferID string) (string, error) {
	tp, err := r.transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return "", err
	}
	var ep collaborators.CatalogEndpoint
	err = svc.Retry(ctx, catalogRetryPolicy, func() error {
		var resolveErr error
		ep, resolveErr = r.catalog.ResolveEndpoint(ctx, tp.AgreementID)
		return resolveErr
	})
	if err != nil {
		return "", err
	}
	return ep.EndpointURL, nil
}
