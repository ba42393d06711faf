// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
	"github.com/google/uuid"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every query method
// below run unchanged whether it is called directly against the pool or
// within a Transactor.WithinTx callback.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements every L0 interface backed by a PostgreSQL connection pool.
type Store struct {
	db *sql.DB
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

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithinTx runs fn against a *sql.Tx-backed Stores view, committing only if
// fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(storage.Stores) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dsperr.Backend(err, "begin transaction")
	}
	q := &queries{db: tx}
	if err := fn(storage.Stores{
		Negotiation:           q,
		NegotiationIdentifier: q,
		NegotiationMessage:    q,
		Offer:                 q,
		Agreement:             q,
		Transfer:              q,
		TransferMessage:       q,
		DataPlaneSession:      q,
		TransferEvent:         q,
	}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dsperr.Backend(err, "commit transaction")
	}
	return nil
}

// queries implements every L0 interface over a dbtx, so the same method
// bodies serve both the pool-backed Store and a WithinTx transaction.
type queries struct {
	db dbtx
}

var (
	_ storage.NegotiationStore           = (*queries)(nil)
	_ storage.NegotiationIdentifierStore = (*queries)(nil)
	_ storage.NegotiationMessageStore    = (*queries)(nil)
	_ storage.OfferStore                 = (*queries)(nil)
	_ storage.AgreementStore             = (*queries)(nil)
	_ storage.TransferStore              = (*queries)(nil)
	_ storage.TransferMessageStore       = (*queries)(nil)
	_ storage.DataPlaneSessionStore      = (*queries)(nil)
	_ storage.TransferEventStore         = (*queries)(nil)
)

// Store delegates every method to an equivalent queries value bound to the
// pool, so Store itself satisfies every interface without duplicating logic.
func (s *Store) q() *queries { return &queries{db: s.db} }

func (s *Store) GetNegotiation(ctx context.Context, id string) (dsp.NegotiationProcess, error) {
	return s.q().GetNegotiation(ctx, id)
}
func (s *Store) GetNegotiationByPid(ctx context.Context, pid string) (dsp.NegotiationProcess, error) {
	return s.q().GetNegotiationByPid(ctx, pid)
}
func (s *Store) ListNegotiations(ctx context.Context, limit, offset int) ([]dsp.NegotiationProcess, error) {
	return s.q().ListNegotiations(ctx, limit, offset)
}
func (s *Store) CreateNegotiation(ctx context.Context, p dsp.NegotiationProcess) error {
	return s.q().CreateNegotiation(ctx, p)
}
func (s *Store) UpdateNegotiation(ctx context.Context, p dsp.NegotiationProcess) error {
	return s.q().UpdateNegotiation(ctx, p)
}
func (s *Store) DeleteNegotiation(ctx context.Context, id string) error {
	return s.q().DeleteNegotiation(ctx, id)
}
func (s *Store) GetIdentifiers(ctx context.Context, processID string) (dsp.NegotiationProcessIdentifier, error) {
	return s.q().GetIdentifiers(ctx, processID)
}
func (s *Store) FindProcessIDByPid(ctx context.Context, pid string) (string, error) {
	return s.q().FindProcessIDByPid(ctx, pid)
}
func (s *Store) PutIdentifiers(ctx context.Context, ids dsp.NegotiationProcessIdentifier) error {
	return s.q().PutIdentifiers(ctx, ids)
}
func (s *Store) AppendNegotiationMessage(ctx context.Context, m dsp.NegotiationMessage) error {
	return s.q().AppendNegotiationMessage(ctx, m)
}
func (s *Store) ListNegotiationMessages(ctx context.Context, processID string) ([]dsp.NegotiationMessage, error) {
	return s.q().ListNegotiationMessages(ctx, processID)
}
func (s *Store) CreateOffer(ctx context.Context, o dsp.Offer) error { return s.q().CreateOffer(ctx, o) }
func (s *Store) LatestOffer(ctx context.Context, processID string) (dsp.Offer, error) {
	return s.q().LatestOffer(ctx, processID)
}
func (s *Store) ListOffers(ctx context.Context, processID string) ([]dsp.Offer, error) {
	return s.q().ListOffers(ctx, processID)
}
func (s *Store) CreateAgreement(ctx context.Context, a dsp.Agreement) error {
	return s.q().CreateAgreement(ctx, a)
}
func (s *Store) UpdateAgreement(ctx context.Context, a dsp.Agreement) error {
	return s.q().UpdateAgreement(ctx, a)
}
func (s *Store) GetAgreement(ctx context.Context, id string) (dsp.Agreement, error) {
	return s.q().GetAgreement(ctx, id)
}
func (s *Store) GetAgreementByProcess(ctx context.Context, processID string) (dsp.Agreement, error) {
	return s.q().GetAgreementByProcess(ctx, processID)
}
func (s *Store) GetTransfer(ctx context.Context, id string) (dsp.TransferProcess, error) {
	return s.q().GetTransfer(ctx, id)
}
func (s *Store) GetTransferByPid(ctx context.Context, pid string) (dsp.TransferProcess, error) {
	return s.q().GetTransferByPid(ctx, pid)
}
func (s *Store) ListTransfers(ctx context.Context, limit, offset int) ([]dsp.TransferProcess, error) {
	return s.q().ListTransfers(ctx, limit, offset)
}
func (s *Store) CreateTransfer(ctx context.Context, p dsp.TransferProcess) error {
	return s.q().CreateTransfer(ctx, p)
}
func (s *Store) UpdateTransfer(ctx context.Context, p dsp.TransferProcess) error {
	return s.q().UpdateTransfer(ctx, p)
}
func (s *Store) DeleteTransfer(ctx context.Context, id string) error {
	return s.q().DeleteTransfer(ctx, id)
}
func (s *Store) AppendTransferMessage(ctx context.Context, m dsp.TransferMessage) error {
	return s.q().AppendTransferMessage(ctx, m)
}
func (s *Store) ListTransferMessages(ctx context.Context, processID string) ([]dsp.TransferMessage, error) {
	return s.q().ListTransferMessages(ctx, processID)
}
func (s *Store) CreateSession(ctx context.Context, sess dsp.DataPlaneSession) error {
	return s.q().CreateSession(ctx, sess)
}
func (s *Store) UpdateSession(ctx context.Context, sess dsp.DataPlaneSession) error {
	return s.q().UpdateSession(ctx, sess)
}
func (s *Store) GetSession(ctx context.Context, id string) (dsp.DataPlaneSession, error) {
	return s.q().GetSession(ctx, id)
}
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.q().DeleteSession(ctx, id)
}
func (s *Store) AppendEvent(ctx context.Context, e dsp.TransferEvent) error {
	return s.q().AppendEvent(ctx, e)
}
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]dsp.TransferEvent, error) {
	return s.q().ListEvents(ctx, sessionID, limit, offset)
}

// --- NegotiationStore --------------------------------------------------------

func (q *queries) GetNegotiation(ctx context.Context, id string) (dsp.NegotiationProcess, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, created_at, updated_at
		FROM dsp_negotiation_processes
		WHERE id = $1
	`, id)
	return scanNegotiation(row)
}

func (q *queries) GetNegotiationByPid(ctx context.Context, pid string) (dsp.NegotiationProcess, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT p.id, p.state, p.state_attribute, p.role, p.associated_peer, p.protocol, p.callback_address, p.properties, p.error_details, p.created_at, p.updated_at
		FROM dsp_negotiation_processes p
		JOIN dsp_negotiation_identifiers i ON i.process_id = p.id
		WHERE i.provider_pid = $1 OR i.consumer_pid = $1
	`, pid)
	return scanNegotiation(row)
}

func (q *queries) ListNegotiations(ctx context.Context, limit, offset int) ([]dsp.NegotiationProcess, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, created_at, updated_at
		FROM dsp_negotiation_processes
		ORDER BY created_at
		LIMIT NULLIF($1, 0) OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, dsperr.Backend(err, "list negotiations")
	}
	defer rows.Close()

	var out []dsp.NegotiationProcess
	for rows.Next() {
		p, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) CreateNegotiation(ctx context.Context, p dsp.NegotiationProcess) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	propsJSON, err := json.Marshal(p.Properties)
	if err != nil {
		return dsperr.Backend(err, "marshal properties")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_negotiation_processes (id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.State, string(p.StateAttribute), p.Role, p.AssociatedPeer, p.Protocol, p.CallbackAddress, propsJSON, p.ErrorDetails, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "create negotiation process")
	}
	return nil
}

func (q *queries) UpdateNegotiation(ctx context.Context, p dsp.NegotiationProcess) error {
	propsJSON, err := json.Marshal(p.Properties)
	if err != nil {
		return dsperr.Backend(err, "marshal properties")
	}
	result, err := q.db.ExecContext(ctx, `
		UPDATE dsp_negotiation_processes
		SET state = $2, state_attribute = $3, associated_peer = $4, callback_address = $5, properties = $6, error_details = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.State, string(p.StateAttribute), p.AssociatedPeer, p.CallbackAddress, propsJSON, p.ErrorDetails, p.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "update negotiation process")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return dsperr.NotFound("negotiation process %q", p.ID)
	}
	return nil
}

func (q *queries) DeleteNegotiation(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM dsp_negotiation_processes WHERE id = $1`, id)
	if err != nil {
		return dsperr.Backend(err, "delete negotiation process")
	}
	return nil
}

func scanNegotiation(scanner rowScanner) (dsp.NegotiationProcess, error) {
	var (
		p              dsp.NegotiationProcess
		stateAttribute string
		propsRaw       []byte
	)
	if err := scanner.Scan(&p.ID, &p.State, &stateAttribute, &p.Role, &p.AssociatedPeer, &p.Protocol, &p.CallbackAddress, &propsRaw, &p.ErrorDetails, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return dsp.NegotiationProcess{}, dsperr.NotFound("negotiation process")
		}
		return dsp.NegotiationProcess{}, dsperr.Backend(err, "scan negotiation process")
	}
	p.StateAttribute = dsp.Role(stateAttribute)
	if len(propsRaw) > 0 {
		_ = json.Unmarshal(propsRaw, &p.Properties)
	}
	return p, nil
}

// --- NegotiationIdentifierStore ---------------------------------------------

func (q *queries) GetIdentifiers(ctx context.Context, processID string) (dsp.NegotiationProcessIdentifier, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT process_id, provider_pid, consumer_pid
		FROM dsp_negotiation_identifiers
		WHERE process_id = $1
	`, processID)

	var ids dsp.NegotiationProcessIdentifier
	if err := row.Scan(&ids.ProcessID, &ids.ProviderPid, &ids.ConsumerPid); err != nil {
		if err == sql.ErrNoRows {
			return dsp.NegotiationProcessIdentifier{}, dsperr.NotFound("identifiers for process %q", processID)
		}
		return dsp.NegotiationProcessIdentifier{}, dsperr.Backend(err, "get identifiers")
	}
	return ids, nil
}

func (q *queries) FindProcessIDByPid(ctx context.Context, pid string) (string, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT process_id FROM dsp_negotiation_identifiers
		WHERE provider_pid = $1 OR consumer_pid = $1
	`, pid)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", dsperr.NotFound("process for pid %q", pid)
		}
		return "", dsperr.Backend(err, "find process by pid")
	}
	return id, nil
}

func (q *queries) PutIdentifiers(ctx context.Context, ids dsp.NegotiationProcessIdentifier) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dsp_negotiation_identifiers (process_id, provider_pid, consumer_pid)
		VALUES ($1, $2, $3)
		ON CONFLICT (process_id) DO UPDATE
		SET provider_pid = EXCLUDED.provider_pid, consumer_pid = EXCLUDED.consumer_pid
	`, ids.ProcessID, ids.ProviderPid, ids.ConsumerPid)
	if err != nil {
		return dsperr.Backend(err, "put identifiers")
	}
	return nil
}

// --- NegotiationMessageStore -------------------------------------------------

func (q *queries) AppendNegotiationMessage(ctx context.Context, m dsp.NegotiationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return dsperr.Backend(err, "marshal message payload")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_negotiation_messages (id, process_id, direction, protocol, message_type, state_from, state_to, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.ProcessID, m.Direction, m.Protocol, m.MessageType, m.StateTransitionFrom, m.StateTransitionTo, payloadJSON, m.CreatedAt)
	if err != nil {
		return dsperr.Backend(err, "append negotiation message")
	}
	return nil
}

func (q *queries) ListNegotiationMessages(ctx context.Context, processID string) ([]dsp.NegotiationMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, process_id, direction, protocol, message_type, state_from, state_to, payload, created_at
		FROM dsp_negotiation_messages
		WHERE process_id = $1
		ORDER BY created_at
	`, processID)
	if err != nil {
		return nil, dsperr.Backend(err, "list negotiation messages")
	}
	defer rows.Close()

	var out []dsp.NegotiationMessage
	for rows.Next() {
		var (
			m        dsp.NegotiationMessage
			payload  []byte
		)
		if err := rows.Scan(&m.ID, &m.ProcessID, &m.Direction, &m.Protocol, &m.MessageType, &m.StateTransitionFrom, &m.StateTransitionTo, &payload, &m.CreatedAt); err != nil {
			return nil, dsperr.Backend(err, "scan negotiation message")
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &m.Payload)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- OfferStore ---------------------------------------------------------------

func (q *queries) CreateOffer(ctx context.Context, o dsp.Offer) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	contentJSON, err := json.Marshal(o.OfferContent)
	if err != nil {
		return dsperr.Backend(err, "marshal offer content")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_offers (id, process_id, message_id, offer_id, offer_content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.ProcessID, o.MessageID, o.OfferID, contentJSON, o.CreatedAt)
	if err != nil {
		return dsperr.Backend(err, "create offer")
	}
	return nil
}

func (q *queries) LatestOffer(ctx context.Context, processID string) (dsp.Offer, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, process_id, message_id, offer_id, offer_content, created_at
		FROM dsp_offers
		WHERE process_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, processID)
	return scanOffer(row, processID)
}

func (q *queries) ListOffers(ctx context.Context, processID string) ([]dsp.Offer, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, process_id, message_id, offer_id, offer_content, created_at
		FROM dsp_offers
		WHERE process_id = $1
		ORDER BY created_at
	`, processID)
	if err != nil {
		return nil, dsperr.Backend(err, "list offers")
	}
	defer rows.Close()

	var out []dsp.Offer
	for rows.Next() {
		o, err := scanOffer(rows, processID)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOffer(scanner rowScanner, processID string) (dsp.Offer, error) {
	var (
		o       dsp.Offer
		content []byte
	)
	if err := scanner.Scan(&o.ID, &o.ProcessID, &o.MessageID, &o.OfferID, &content, &o.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return dsp.Offer{}, dsperr.NotFound("offer for process %q", processID)
		}
		return dsp.Offer{}, dsperr.Backend(err, "scan offer")
	}
	if len(content) > 0 {
		_ = json.Unmarshal(content, &o.OfferContent)
	}
	return o, nil
}

// --- AgreementStore -------------------------------------------------------

func (q *queries) CreateAgreement(ctx context.Context, a dsp.Agreement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	contentJSON, err := json.Marshal(a.AgreementContent)
	if err != nil {
		return dsperr.Backend(err, "marshal agreement content")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_agreements (id, process_id, message_id, consumer_participant_id, provider_participant_id, agreement_content, target, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.ProcessID, a.MessageID, a.ConsumerParticipantID, a.ProviderParticipantID, contentJSON, a.Target, a.State, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "create agreement")
	}
	return nil
}

func (q *queries) UpdateAgreement(ctx context.Context, a dsp.Agreement) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE dsp_agreements
		SET state = $2, updated_at = $3
		WHERE id = $1
	`, a.ID, a.State, a.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "update agreement")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return dsperr.NotFound("agreement %q", a.ID)
	}
	return nil
}

func (q *queries) GetAgreement(ctx context.Context, id string) (dsp.Agreement, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, process_id, message_id, consumer_participant_id, provider_participant_id, agreement_content, target, state, created_at, updated_at
		FROM dsp_agreements
		WHERE id = $1
	`, id)
	return scanAgreement(row)
}

func (q *queries) GetAgreementByProcess(ctx context.Context, processID string) (dsp.Agreement, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, process_id, message_id, consumer_participant_id, provider_participant_id, agreement_content, target, state, created_at, updated_at
		FROM dsp_agreements
		WHERE process_id = $1
	`, processID)
	return scanAgreement(row)
}

func scanAgreement(scanner rowScanner) (dsp.Agreement, error) {
	var (
		a       dsp.Agreement
		content []byte
	)
	if err := scanner.Scan(&a.ID, &a.ProcessID, &a.MessageID, &a.ConsumerParticipantID, &a.ProviderParticipantID, &content, &a.Target, &a.State, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return dsp.Agreement{}, dsperr.NotFound("agreement")
		}
		return dsp.Agreement{}, dsperr.Backend(err, "scan agreement")
	}
	if len(content) > 0 {
		_ = json.Unmarshal(content, &a.AgreementContent)
	}
	return a, nil
}

// --- TransferStore ----------------------------------------------------------

func (q *queries) GetTransfer(ctx context.Context, id string) (dsp.TransferProcess, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, transfer_direction, agreement_id, data_plane_session_id, consumer_data_address, created_at, updated_at
		FROM dsp_transfer_processes
		WHERE id = $1
	`, id)
	return scanTransfer(row)
}

func (q *queries) GetTransferByPid(ctx context.Context, pid string) (dsp.TransferProcess, error) {
	return q.GetTransfer(ctx, pid)
}

func (q *queries) ListTransfers(ctx context.Context, limit, offset int) ([]dsp.TransferProcess, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, transfer_direction, agreement_id, data_plane_session_id, consumer_data_address, created_at, updated_at
		FROM dsp_transfer_processes
		ORDER BY created_at
		LIMIT NULLIF($1, 0) OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, dsperr.Backend(err, "list transfers")
	}
	defer rows.Close()

	var out []dsp.TransferProcess
	for rows.Next() {
		p, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) CreateTransfer(ctx context.Context, p dsp.TransferProcess) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	propsJSON, err := json.Marshal(p.Properties)
	if err != nil {
		return dsperr.Backend(err, "marshal properties")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_transfer_processes (id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, transfer_direction, agreement_id, data_plane_session_id, consumer_data_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.State, string(p.StateAttribute), p.Role, p.AssociatedPeer, p.Protocol, p.CallbackAddress, propsJSON, p.ErrorDetails, p.TransferDirection, p.AgreementID, toNullString(p.DataPlaneSessionID), toNullString(p.ConsumerDataAddress), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "create transfer process")
	}
	return nil
}

func (q *queries) UpdateTransfer(ctx context.Context, p dsp.TransferProcess) error {
	propsJSON, err := json.Marshal(p.Properties)
	if err != nil {
		return dsperr.Backend(err, "marshal properties")
	}
	result, err := q.db.ExecContext(ctx, `
		UPDATE dsp_transfer_processes
		SET state = $2, state_attribute = $3, associated_peer = $4, callback_address = $5, properties = $6, error_details = $7, data_plane_session_id = $8, consumer_data_address = $9, updated_at = $10
		WHERE id = $1
	`, p.ID, p.State, string(p.StateAttribute), p.AssociatedPeer, p.CallbackAddress, propsJSON, p.ErrorDetails, toNullString(p.DataPlaneSessionID), toNullString(p.ConsumerDataAddress), p.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "update transfer process")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return dsperr.NotFound("transfer process %q", p.ID)
	}
	return nil
}

func (q *queries) DeleteTransfer(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM dsp_transfer_processes WHERE id = $1`, id)
	if err != nil {
		return dsperr.Backend(err, "delete transfer process")
	}
	return nil
}

func scanTransfer(scanner rowScanner) (dsp.TransferProcess, error) {
	var (
		p              dsp.TransferProcess
		stateAttribute string
		propsRaw       []byte
		sessionID      sql.NullString
		dataAddr       sql.NullString
	)
	if err := scanner.Scan(&p.ID, &p.State, &stateAttribute, &p.Role, &p.AssociatedPeer, &p.Protocol, &p.CallbackAddress, &propsRaw, &p.ErrorDetails, &p.TransferDirection, &p.AgreementID, &sessionID, &dataAddr, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return dsp.TransferProcess{}, dsperr.NotFound("transfer process")
		}
		return dsp.TransferProcess{}, dsperr.Backend(err, "scan transfer process")
	}
	p.StateAttribute = dsp.Role(stateAttribute)
	if sessionID.Valid {
		p.DataPlaneSessionID = sessionID.String
	}
	if dataAddr.Valid {
		p.ConsumerDataAddress = dataAddr.String
	}
	if len(propsRaw) > 0 {
		_ = json.Unmarshal(propsRaw, &p.Properties)
	}
	return p, nil
}

// --- TransferMessageStore ---------------------------------------------------

func (q *queries) AppendTransferMessage(ctx context.Context, m dsp.TransferMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return dsperr.Backend(err, "marshal message payload")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_transfer_messages (id, process_id, direction, protocol, message_type, state_from, state_to, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.ProcessID, m.Direction, m.Protocol, m.MessageType, m.StateTransitionFrom, m.StateTransitionTo, payloadJSON, m.CreatedAt)
	if err != nil {
		return dsperr.Backend(err, "append transfer message")
	}
	return nil
}

func (q *queries) ListTransferMessages(ctx context.Context, processID string) ([]dsp.TransferMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, process_id, direction, protocol, message_type, state_from, state_to, payload, created_at
		FROM dsp_transfer_messages
		WHERE process_id = $1
		ORDER BY created_at
	`, processID)
	if err != nil {
		return nil, dsperr.Backend(err, "list transfer messages")
	}
	defer rows.Close()

	var out []dsp.TransferMessage
	for rows.Next() {
		var (
			m       dsp.TransferMessage
			payload []byte
		)
		if err := rows.Scan(&m.ID, &m.ProcessID, &m.Direction, &m.Protocol, &m.MessageType, &m.StateTransitionFrom, &m.StateTransitionTo, &payload, &m.CreatedAt); err != nil {
			return nil, dsperr.Backend(err, "scan transfer message")
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &m.Payload)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- DataPlaneSessionStore ---------------------------------------------------

func (q *queries) CreateSession(ctx context.Context, sess dsp.DataPlaneSession) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dsp_data_plane_sessions (id, direction, state, upstream_address, downstream_address, session_address, auth_material, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.Direction, sess.State, sess.UpstreamAddress, sess.DownstreamAddress, sess.SessionAddress, sess.AuthMaterial, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "create data plane session")
	}
	return nil
}

func (q *queries) UpdateSession(ctx context.Context, sess dsp.DataPlaneSession) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE dsp_data_plane_sessions
		SET state = $2, upstream_address = $3, downstream_address = $4, session_address = $5, auth_material = $6, updated_at = $7
		WHERE id = $1
	`, sess.ID, sess.State, sess.UpstreamAddress, sess.DownstreamAddress, sess.SessionAddress, sess.AuthMaterial, sess.UpdatedAt)
	if err != nil {
		return dsperr.Backend(err, "update data plane session")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return dsperr.NotFound("data plane session %q", sess.ID)
	}
	return nil
}

func (q *queries) GetSession(ctx context.Context, id string) (dsp.DataPlaneSession, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, direction, state, upstream_address, downstream_address, session_address, auth_material, created_at, updated_at
		FROM dsp_data_plane_sessions
		WHERE id = $1
	`, id)

	var sess dsp.DataPlaneSession
	if err := row.Scan(&sess.ID, &sess.Direction, &sess.State, &sess.UpstreamAddress, &sess.DownstreamAddress, &sess.SessionAddress, &sess.AuthMaterial, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return dsp.DataPlaneSession{}, dsperr.NotFound("data plane session %q", id)
		}
		return dsp.DataPlaneSession{}, dsperr.Backend(err, "scan data plane session")
	}
	return sess, nil
}

func (q *queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM dsp_data_plane_sessions WHERE id = $1`, id)
	if err != nil {
		return dsperr.Backend(err, "delete data plane session")
	}
	return nil
}

// --- TransferEventStore ------------------------------------------------------

func (q *queries) AppendEvent(ctx context.Context, e dsp.TransferEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return dsperr.Backend(err, "marshal event payload")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dsp_transfer_events (id, session_id, from_state, to_state, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.SessionID, e.From, e.To, payloadJSON, e.CreatedAt)
	if err != nil {
		return dsperr.Backend(err, "append transfer event")
	}
	return nil
}

func (q *queries) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]dsp.TransferEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, from_state, to_state, payload, created_at
		FROM dsp_transfer_events
		WHERE session_id = $1
		ORDER BY created_at
		LIMIT NULLIF($2, 0) OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, dsperr.Backend(err, "list transfer events")
	}
	defer rows.Close()

	var out []dsp.TransferEvent
	for rows.Next() {
		var (
			e       dsp.TransferEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.From, &e.To, &payload, &e.CreatedAt); err != nil {
			return nil, dsperr.Backend(err, "scan transfer event")
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toNullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
