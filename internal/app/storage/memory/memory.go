// Package memory provides an in-process implementation of every L0
// repository interface, guarded by a read/write mutex, with a second mutex
// serializing WithinTx calls. It is the default store
// when no Postgres DSN is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
)

// Store implements every storage interface over plain Go maps.
type Store struct {
	mu sync.RWMutex
	// txMu serializes WithinTx callers against each other.
	txMu sync.Mutex

	negotiations map[string]dsp.NegotiationProcess
	identifiers  map[string]dsp.NegotiationProcessIdentifier // keyed by process id
	pidIndex     map[string]string                           // pid -> process id
	negMessages  map[string][]dsp.NegotiationMessage          // keyed by process id
	offers       map[string][]dsp.Offer                       // keyed by process id
	agreements   map[string]dsp.Agreement                     // keyed by agreement id
	agreementIdx map[string]string                            // process id -> agreement id

	transfers      map[string]dsp.TransferProcess
	transferPidIdx map[string]string
	tfMessages     map[string][]dsp.TransferMessage

	sessions map[string]dsp.DataPlaneSession
	events   map[string][]dsp.TransferEvent
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		negotiations:   make(map[string]dsp.NegotiationProcess),
		identifiers:    make(map[string]dsp.NegotiationProcessIdentifier),
		pidIndex:       make(map[string]string),
		negMessages:    make(map[string][]dsp.NegotiationMessage),
		offers:         make(map[string][]dsp.Offer),
		agreements:     make(map[string]dsp.Agreement),
		agreementIdx:   make(map[string]string),
		transfers:      make(map[string]dsp.TransferProcess),
		transferPidIdx: make(map[string]string),
		tfMessages:     make(map[string][]dsp.TransferMessage),
		sessions:       make(map[string]dsp.DataPlaneSession),
		events:         make(map[string][]dsp.TransferEvent),
	}
}

var (
	_ storage.NegotiationStore           = (*Store)(nil)
	_ storage.NegotiationIdentifierStore = (*Store)(nil)
	_ storage.NegotiationMessageStore    = (*Store)(nil)
	_ storage.OfferStore                 = (*Store)(nil)
	_ storage.AgreementStore             = (*Store)(nil)
	_ storage.TransferStore              = (*Store)(nil)
	_ storage.TransferMessageStore       = (*Store)(nil)
	_ storage.DataPlaneSessionStore      = (*Store)(nil)
	_ storage.TransferEventStore         = (*Store)(nil)
	_ storage.Transactor                 = (*Store)(nil)
)

// WithinTx runs fn against the store itself while holding txMu, so WithinTx
// calls never interleave with one another. Each store method still takes
// the data lock on its own: calls made outside WithinTx are not excluded,
// and writes fn made before returning an error are not rolled back.
func (s *Store) WithinTx(ctx context.Context, fn func(storage.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(storage.Stores{
		Negotiation:           s,
		NegotiationIdentifier: s,
		NegotiationMessage:    s,
		Offer:                 s,
		Agreement:             s,
		Transfer:              s,
		TransferMessage:       s,
		DataPlaneSession:      s,
		TransferEvent:         s,
	})
}

// --- NegotiationStore ---

func (s *Store) GetNegotiation(_ context.Context, id string) (dsp.NegotiationProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.negotiations[id]
	if !ok {
		return dsp.NegotiationProcess{}, dsperr.NotFound("negotiation process %q", id)
	}
	return p.Clone(), nil
}

func (s *Store) GetNegotiationByPid(_ context.Context, pid string) (dsp.NegotiationProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pidIndex[pid]
	if !ok {
		return dsp.NegotiationProcess{}, dsperr.NotFound("negotiation process for pid %q", pid)
	}
	p, ok := s.negotiations[id]
	if !ok {
		return dsp.NegotiationProcess{}, dsperr.NotFound("negotiation process %q", id)
	}
	return p.Clone(), nil
}

func (s *Store) ListNegotiations(_ context.Context, limit, offset int) ([]dsp.NegotiationProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dsp.NegotiationProcess, 0, len(s.negotiations))
	for _, p := range s.negotiations {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *Store) CreateNegotiation(_ context.Context, p dsp.NegotiationProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.negotiations[p.ID]; ok {
		return dsperr.New(dsperr.KindBackend, "negotiation process already exists: "+p.ID)
	}
	s.negotiations[p.ID] = p.Clone()
	return nil
}

func (s *Store) UpdateNegotiation(_ context.Context, p dsp.NegotiationProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.negotiations[p.ID]; !ok {
		return dsperr.NotFound("negotiation process %q", p.ID)
	}
	s.negotiations[p.ID] = p.Clone()
	return nil
}

func (s *Store) DeleteNegotiation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.negotiations, id)
	if ids, ok := s.identifiers[id]; ok {
		delete(s.pidIndex, ids.ProviderPid)
		delete(s.pidIndex, ids.ConsumerPid)
		delete(s.identifiers, id)
	}
	delete(s.negMessages, id)
	delete(s.offers, id)
	if agID, ok := s.agreementIdx[id]; ok {
		delete(s.agreements, agID)
		delete(s.agreementIdx, id)
	}
	return nil
}

// --- NegotiationIdentifierStore ---

func (s *Store) GetIdentifiers(_ context.Context, processID string) (dsp.NegotiationProcessIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.identifiers[processID]
	if !ok {
		return dsp.NegotiationProcessIdentifier{}, dsperr.NotFound("identifiers for process %q", processID)
	}
	return ids, nil
}

func (s *Store) FindProcessIDByPid(_ context.Context, pid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pidIndex[pid]
	if !ok {
		return "", dsperr.NotFound("process for pid %q", pid)
	}
	return id, nil
}

func (s *Store) PutIdentifiers(_ context.Context, ids dsp.NegotiationProcessIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identifiers[ids.ProcessID] = ids
	if ids.ProviderPid != "" {
		s.pidIndex[ids.ProviderPid] = ids.ProcessID
	}
	if ids.ConsumerPid != "" {
		s.pidIndex[ids.ConsumerPid] = ids.ProcessID
	}
	return nil
}

// --- NegotiationMessageStore ---

func (s *Store) AppendNegotiationMessage(_ context.Context, m dsp.NegotiationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negMessages[m.ProcessID] = append(s.negMessages[m.ProcessID], m)
	return nil
}

func (s *Store) ListNegotiationMessages(_ context.Context, processID string) ([]dsp.NegotiationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.negMessages[processID]
	out := make([]dsp.NegotiationMessage, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- OfferStore ---

func (s *Store) CreateOffer(_ context.Context, o dsp.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ProcessID] = append(s.offers[o.ProcessID], o)
	return nil
}

func (s *Store) LatestOffer(_ context.Context, processID string) (dsp.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers := s.offers[processID]
	if len(offers) == 0 {
		return dsp.Offer{}, dsperr.NotFound("offer for process %q", processID)
	}
	latest := offers[0]
	for _, o := range offers[1:] {
		if o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	return latest, nil
}

func (s *Store) ListOffers(_ context.Context, processID string) ([]dsp.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dsp.Offer, len(s.offers[processID]))
	copy(out, s.offers[processID])
	return out, nil
}

// --- AgreementStore ---

func (s *Store) CreateAgreement(_ context.Context, a dsp.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agreements[a.ID] = a
	s.agreementIdx[a.ProcessID] = a.ID
	return nil
}

func (s *Store) UpdateAgreement(_ context.Context, a dsp.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agreements[a.ID]; !ok {
		return dsperr.NotFound("agreement %q", a.ID)
	}
	s.agreements[a.ID] = a
	return nil
}

func (s *Store) GetAgreement(_ context.Context, id string) (dsp.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agreements[id]
	if !ok {
		return dsp.Agreement{}, dsperr.NotFound("agreement %q", id)
	}
	return a, nil
}

func (s *Store) GetAgreementByProcess(_ context.Context, processID string) (dsp.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.agreementIdx[processID]
	if !ok {
		return dsp.Agreement{}, dsperr.NotFound("agreement for process %q", processID)
	}
	a, ok := s.agreements[id]
	if !ok {
		return dsp.Agreement{}, dsperr.NotFound("agreement %q", id)
	}
	return a, nil
}

// --- TransferStore ---

func (s *Store) GetTransfer(_ context.Context, id string) (dsp.TransferProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.transfers[id]
	if !ok {
		return dsp.TransferProcess{}, dsperr.NotFound("transfer process %q", id)
	}
	return p.Clone(), nil
}

func (s *Store) GetTransferByPid(_ context.Context, pid string) (dsp.TransferProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.transferPidIdx[pid]
	if !ok {
		return dsp.TransferProcess{}, dsperr.NotFound("transfer process for pid %q", pid)
	}
	p, ok := s.transfers[id]
	if !ok {
		return dsp.TransferProcess{}, dsperr.NotFound("transfer process %q", id)
	}
	return p.Clone(), nil
}

func (s *Store) ListTransfers(_ context.Context, limit, offset int) ([]dsp.TransferProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dsp.TransferProcess, 0, len(s.transfers))
	for _, p := range s.transfers {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *Store) CreateTransfer(_ context.Context, p dsp.TransferProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[p.ID]; ok {
		return dsperr.New(dsperr.KindBackend, "transfer process already exists: "+p.ID)
	}
	s.transfers[p.ID] = p.Clone()
	if p.ID != "" {
		s.transferPidIdx[p.ID] = p.ID
	}
	return nil
}

func (s *Store) UpdateTransfer(_ context.Context, p dsp.TransferProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[p.ID]; !ok {
		return dsperr.NotFound("transfer process %q", p.ID)
	}
	s.transfers[p.ID] = p.Clone()
	return nil
}

func (s *Store) DeleteTransfer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, id)
	delete(s.transferPidIdx, id)
	delete(s.tfMessages, id)
	return nil
}

// --- TransferMessageStore ---

func (s *Store) AppendTransferMessage(_ context.Context, m dsp.TransferMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tfMessages[m.ProcessID] = append(s.tfMessages[m.ProcessID], m)
	return nil
}

func (s *Store) ListTransferMessages(_ context.Context, processID string) ([]dsp.TransferMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.tfMessages[processID]
	out := make([]dsp.TransferMessage, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- DataPlaneSessionStore ---

func (s *Store) CreateSession(_ context.Context, sess dsp.DataPlaneSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return dsperr.New(dsperr.KindBackend, "data plane session already exists: "+sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) UpdateSession(_ context.Context, sess dsp.DataPlaneSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return dsperr.NotFound("data plane session %q", sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (dsp.DataPlaneSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return dsp.DataPlaneSession{}, dsperr.NotFound("data plane session %q", id)
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.events, id)
	return nil
}

// --- TransferEventStore ---

func (s *Store) AppendEvent(_ context.Context, e dsp.TransferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.SessionID] = append(s.events[e.SessionID], e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, sessionID string, limit, offset int) ([]dsp.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dsp.TransferEvent, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
