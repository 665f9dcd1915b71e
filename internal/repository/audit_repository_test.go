package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/loanguard/loanguard/internal/model"
)

func validAuditEntry() *model.AuditLogEntry {
	return &model.AuditLogEntry{
		ActorID:    "user-1",
		ActorEmail: "user-1@example.com",
		Action:     model.AuditActionLogin,
		EntityType: "identity",
		EntityID:   "user-1",
		IPAddress:  "10.0.0.1",
		UserAgent:  "test-agent",
		RiskLevel:  model.RiskLevelLow,
	}
}

func TestAppendValidatesRequiredFields(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	repo := NewAuditRepository(db)

	cases := []struct {
		name   string
		mutate func(*model.AuditLogEntry)
	}{
		{"missing actor", func(e *model.AuditLogEntry) { e.ActorID = "" }},
		{"missing action", func(e *model.AuditLogEntry) { e.Action = "" }},
		{"missing entity type", func(e *model.AuditLogEntry) { e.EntityType = "" }},
		{"missing ip", func(e *model.AuditLogEntry) { e.IPAddress = "" }},
		{"blank user agent", func(e *model.AuditLogEntry) { e.UserAgent = "   " }},
		{"unknown risk level", func(e *model.AuditLogEntry) { e.RiskLevel = "critical" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := validAuditEntry()
			tc.mutate(entry)
			if err := repo.Append(context.Background(), entry); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAppendAssignsIDAndNormalizesFlags(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := validAuditEntry()
	entry.Timestamp = at

	// Nil flags are stored as an empty json array, never null.
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(
			sqlmock.AnyArg(),
			"user-1",
			"user-1@example.com",
			model.AuditActionLogin,
			"identity",
			"user-1",
			[]byte("{}"),
			[]byte("{}"),
			"10.0.0.1",
			"test-agent",
			sqlmock.AnyArg(),
			model.RiskLevelLow,
			[]byte("[]"),
			nil,
			at,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewAuditRepository(db)
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected assigned entry id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryReturnsTotalAndEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_log").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	columns := []string{"id", "actor_id", "actor_email", "action", "entity_type", "entity_id",
		"changes", "previous_values", "ip_address", "user_agent", "session_id",
		"risk_level", "compliance_flags", "application_id", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM audit_log").
		WithArgs("user-1", 50, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("01ARZ", "user-1", "user-1@example.com", "FAILED_LOGIN", "identity", "user-1",
				[]byte(`{"attempt":5}`), []byte("{}"), "10.0.0.1", "test-agent", nil,
				"high", []byte(`["ACCOUNT_LOCKED"]`), nil, at))

	repo := NewAuditRepository(db)
	entries, total, err := repo.Query(context.Background(), model.AuditFilter{ActorID: "user-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 7 {
		t.Fatalf("expected total 7, got %d", total)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Action != "FAILED_LOGIN" || entry.RiskLevel != model.RiskLevelHigh {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(entry.ComplianceFlags) != 1 || entry.ComplianceFlags[0] != model.ComplianceFlagAccountLocked {
		t.Fatalf("flags not decoded: %v", entry.ComplianceFlags)
	}
	if entry.Changes["attempt"] != float64(5) {
		t.Fatalf("changes not decoded: %v", entry.Changes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFlaggedAppliesRangeAndLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	columns := []string{"id", "actor_id", "actor_email", "action", "entity_type", "entity_id",
		"changes", "previous_values", "ip_address", "user_agent", "session_id",
		"risk_level", "compliance_flags", "application_id", "created_at"}
	mock.ExpectQuery("jsonb_array_length\\(compliance_flags\\) > 0").
		WithArgs(start, end, 50).
		WillReturnRows(sqlmock.NewRows(columns))

	repo := NewAuditRepository(db)
	entries, err := repo.Flagged(context.Background(), start, end, 0)
	if err != nil {
		t.Fatalf("Flagged: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
