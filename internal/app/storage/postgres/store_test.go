package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/storage"
)

func TestGetNegotiationScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, state, state_attribute, role, associated_peer, protocol, callback_address, properties, error_details, created_at, updated_at\s+FROM dsp_negotiation_processes`).
		WithArgs("urn:uuid:1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "state", "state_attribute", "role", "associated_peer", "protocol", "callback_address", "properties", "error_details", "created_at", "updated_at",
		}).AddRow("urn:uuid:1", "REQUESTED", "", "Provider", "urn:connector:consumer", "dataspace-protocol-http", "https://consumer.example/callback", []byte(`{"k":"v"}`), "", now, now))

	store := New(db)
	proc, err := store.GetNegotiation(context.Background(), "urn:uuid:1")
	if err != nil {
		t.Fatalf("get negotiation: %v", err)
	}
	if proc.State != dsp.NegotiationRequested {
		t.Fatalf("expected REQUESTED, got %q", proc.State)
	}
	if proc.Properties["k"] != "v" {
		t.Fatalf("expected properties to be decoded, got %+v", proc.Properties)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetNegotiationNotFoundMapsToNotFoundKind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM dsp_negotiation_processes`).
		WithArgs("urn:uuid:missing").
		WillReturnError(sql.ErrNoRows)

	store := New(db)
	_, err = store.GetNegotiation(context.Background(), "urn:uuid:missing")
	if dsperr.As(err).Kind != dsperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCreateNegotiationExecutesInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO dsp_negotiation_processes`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	err = store.CreateNegotiation(context.Background(), dsp.NegotiationProcess{
		ID: "urn:uuid:2", State: dsp.NegotiationRequested, Role: dsp.RoleProvider,
	})
	if err != nil {
		t.Fatalf("create negotiation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	store := New(db)
	boom := dsperr.Internal("boom")
	err = store.WithinTx(context.Background(), func(storage.Stores) error {
		return boom
	})
	if err != boom {
		t.Fatalf("expected the callback's error to propagate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dsp_negotiation_processes`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := New(db)
	err = store.WithinTx(context.Background(), func(s storage.Stores) error {
		return s.Negotiation.CreateNegotiation(context.Background(), dsp.NegotiationProcess{ID: "urn:uuid:3"})
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
