// Package storage declares the repository-layer interfaces (L0). Each
// aggregate from the data model gets one typed interface; in-memory and
// Postgres implementations both satisfy every interface.
package storage

import (
	"context"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
)

// NegotiationStore persists NegotiationProcess rows.
type NegotiationStore interface {
	GetNegotiation(ctx context.Context, id string) (dsp.NegotiationProcess, error)
	GetNegotiationByPid(ctx context.Context, pid string) (dsp.NegotiationProcess, error)
	ListNegotiations(ctx context.Context, limit, offset int) ([]dsp.NegotiationProcess, error)
	CreateNegotiation(ctx context.Context, p dsp.NegotiationProcess) error
	UpdateNegotiation(ctx context.Context, p dsp.NegotiationProcess) error
	DeleteNegotiation(ctx context.Context, id string) error
}

// NegotiationIdentifierStore maps a process id to its (providerPid,
// consumerPid) pair, used for correlation lookups by either participant's pid.
type NegotiationIdentifierStore interface {
	GetIdentifiers(ctx context.Context, processID string) (dsp.NegotiationProcessIdentifier, error)
	FindProcessIDByPid(ctx context.Context, pid string) (string, error)
	PutIdentifiers(ctx context.Context, ids dsp.NegotiationProcessIdentifier) error
}

// NegotiationMessageStore appends and lists the CN message log.
type NegotiationMessageStore interface {
	AppendNegotiationMessage(ctx context.Context, m dsp.NegotiationMessage) error
	ListNegotiationMessages(ctx context.Context, processID string) ([]dsp.NegotiationMessage, error)
}

// OfferStore persists Offers.
type OfferStore interface {
	CreateOffer(ctx context.Context, o dsp.Offer) error
	LatestOffer(ctx context.Context, processID string) (dsp.Offer, error)
	ListOffers(ctx context.Context, processID string) ([]dsp.Offer, error)
}

// AgreementStore persists the at-most-one Agreement per process.
type AgreementStore interface {
	CreateAgreement(ctx context.Context, a dsp.Agreement) error
	UpdateAgreement(ctx context.Context, a dsp.Agreement) error
	GetAgreement(ctx context.Context, id string) (dsp.Agreement, error)
	GetAgreementByProcess(ctx context.Context, processID string) (dsp.Agreement, error)
}

// TransferStore persists TransferProcess rows.
type TransferStore interface {
	GetTransfer(ctx context.Context, id string) (dsp.TransferProcess, error)
	GetTransferByPid(ctx context.Context, pid string) (dsp.TransferProcess, error)
	ListTransfers(ctx context.Context, limit, offset int) ([]dsp.TransferProcess, error)
	CreateTransfer(ctx context.Context, p dsp.TransferProcess) error
	UpdateTransfer(ctx context.Context, p dsp.TransferProcess) error
	DeleteTransfer(ctx context.Context, id string) error
}

// TransferMessageStore appends and lists the TP message log.
type TransferMessageStore interface {
	AppendTransferMessage(ctx context.Context, m dsp.TransferMessage) error
	ListTransferMessages(ctx context.Context, processID string) ([]dsp.TransferMessage, error)
}

// DataPlaneSessionStore persists DataPlaneSession rows, owned exclusively by L3.
type DataPlaneSessionStore interface {
	CreateSession(ctx context.Context, s dsp.DataPlaneSession) error
	UpdateSession(ctx context.Context, s dsp.DataPlaneSession) error
	GetSession(ctx context.Context, id string) (dsp.DataPlaneSession, error)
	DeleteSession(ctx context.Context, id string) error
}

// TransferEventStore appends the audit log for data-plane sessions.
type TransferEventStore interface {
	AppendEvent(ctx context.Context, e dsp.TransferEvent) error
	ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]dsp.TransferEvent, error)
}

// Stores bundles every repository interface; engines receive it from
// Transactor.WithinTx. The Postgres Transactor backs it with one database
// transaction; the in-memory one serializes WithinTx calls with a mutex but
// does not roll back writes (see memory.Store.WithinTx).
type Stores struct {
	Negotiation           NegotiationStore
	NegotiationIdentifier NegotiationIdentifierStore
	NegotiationMessage    NegotiationMessageStore
	Offer                 OfferStore
	Agreement             AgreementStore
	Transfer              TransferStore
	TransferMessage       TransferMessageStore
	DataPlaneSession      DataPlaneSessionStore
	TransferEvent         TransferEventStore
}

// Transactor executes fn with a Stores view whose writes are visible only if
// fn returns nil, satisfying §4.1's single-transaction guarantee for
// cross-aggregate writes within one transition handler.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}
