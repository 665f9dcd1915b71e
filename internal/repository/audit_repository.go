package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loanguard/loanguard/internal/ids"
	"github.com/loanguard/loanguard/internal/model"
)

// AuditRepository is the append-only compliance ledger. It validates and
// stores entries exactly as given; compliance-flag derivation is the caller's
// responsibility, which keeps the ledger a dumb, trustworthy sink.
type AuditRepository struct {
	q DBTX
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(q DBTX) *AuditRepository {
	return &AuditRepository{q: q}
}

const auditColumns = `id, actor_id, actor_email, action, entity_type, entity_id,
	changes, previous_values, ip_address, user_agent, session_id,
	risk_level, compliance_flags, application_id, created_at`

// Append validates the entry, assigns id and server timestamp where absent,
// and inserts it. There is no update or delete.
func (r *AuditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	changes, err := marshalMap(entry.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	previous, err := marshalMap(entry.PreviousValues)
	if err != nil {
		return fmt.Errorf("failed to encode previous values: %w", err)
	}
	// Store a real json array so jsonb_array_length works on every row
	flagList := entry.ComplianceFlags
	if flagList == nil {
		flagList = []string{}
	}
	flags, err := json.Marshal(flagList)
	if err != nil {
		return fmt.Errorf("failed to encode compliance flags: %w", err)
	}

	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.q.ExecContext(ctx, query,
		entry.ID,
		entry.ActorID,
		entry.ActorEmail,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		changes,
		previous,
		entry.IPAddress,
		entry.UserAgent,
		nullString(entry.SessionID),
		entry.RiskLevel,
		flags,
		entry.ApplicationID,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func validateEntry(entry *model.AuditLogEntry) error {
	required := []struct {
		field string
		value string
	}{
		{"actor_id", entry.ActorID},
		{"action", entry.Action},
		{"entity_type", entry.EntityType},
		{"entity_id", entry.EntityID},
		{"ip_address", entry.IPAddress},
		{"user_agent", entry.UserAgent},
		{"risk_level", string(entry.RiskLevel)},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, f.field)
		}
	}
	switch entry.RiskLevel {
	case model.RiskLevelLow, model.RiskLevelMedium, model.RiskLevelHigh:
	default:
		return fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, entry.RiskLevel)
	}
	return nil
}

// Query returns entries matching the filter, newest first, plus the total
// match count for pagination.
func (r *AuditRepository) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditLogEntry, int, error) {
	where, args := buildAuditWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_log` + where
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := `SELECT ` + auditColumns + ` FROM audit_log` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.q.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, total, nil
}

// Aggregate computes read-only rollups over a date range: counts by action
// and risk level, the most recent high-risk entries, and how many entries
// carry compliance flags.
func (r *AuditRepository) Aggregate(ctx context.Context, start, end time.Time) (*model.AuditSummary, error) {
	summary := &model.AuditSummary{
		Start:       start,
		End:         end,
		ByAction:    make(map[string]int),
		ByRiskLevel: make(map[model.RiskLevel]int),
	}

	actionRows, err := r.q.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM audit_log WHERE created_at >= $1 AND created_at <= $2 GROUP BY action`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by action: %w", err)
	}
	defer actionRows.Close()
	for actionRows.Next() {
		var action string
		var count int
		if err := actionRows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		summary.ByAction[action] = count
		summary.TotalEntries += count
	}
	if err := actionRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action counts: %w", err)
	}

	levelRows, err := r.q.QueryContext(ctx,
		`SELECT risk_level, COUNT(*) FROM audit_log WHERE created_at >= $1 AND created_at <= $2 GROUP BY risk_level`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by risk level: %w", err)
	}
	defer levelRows.Close()
	for levelRows.Next() {
		var level model.RiskLevel
		var count int
		if err := levelRows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("failed to scan risk level count: %w", err)
		}
		summary.ByRiskLevel[level] = count
	}
	if err := levelRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate risk level counts: %w", err)
	}

	highRows, err := r.q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE created_at >= $1 AND created_at <= $2 AND risk_level = $3
		 ORDER BY created_at DESC, id DESC LIMIT 10`,
		start, end, model.RiskLevelHigh)
	if err != nil {
		return nil, fmt.Errorf("failed to query high-risk entries: %w", err)
	}
	defer highRows.Close()
	for highRows.Next() {
		entry, err := scanAuditEntry(highRows)
		if err != nil {
			return nil, err
		}
		summary.RecentHighRisk = append(summary.RecentHighRisk, *entry)
	}
	if err := highRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate high-risk entries: %w", err)
	}

	err = r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log
		 WHERE created_at >= $1 AND created_at <= $2 AND jsonb_array_length(compliance_flags) > 0`,
		start, end).Scan(&summary.ComplianceFlagged)
	if err != nil {
		return nil, fmt.Errorf("failed to count compliance-flagged entries: %w", err)
	}

	return summary, nil
}

// Flagged returns the compliance-flagged entries of a date range, newest
// first, capped at limit.
func (r *AuditRepository) Flagged(ctx context.Context, start, end time.Time, limit int) ([]model.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE created_at >= $1 AND created_at <= $2 AND jsonb_array_length(compliance_flags) > 0
		 ORDER BY created_at DESC, id DESC LIMIT $3`,
		start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flagged entries: %w", err)
	}
	return entries, nil
}

func buildAuditWhere(filter model.AuditFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.ApplicationID != "" {
		add("application_id = $%d", filter.ApplicationID)
	}
	if filter.Start != nil {
		add("created_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("created_at <= $%d", *filter.End)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// scannable covers *sql.Row and *sql.Rows
type scannable interface {
	Scan(dest ...any) error
}

func scanAuditEntry(row scannable) (*model.AuditLogEntry, error) {
	var entry model.AuditLogEntry
	var changes, previous, flags []byte
	var sessionID sql.NullString
	err := row.Scan(
		&entry.ID,
		&entry.ActorID,
		&entry.ActorEmail,
		&entry.Action,
		&entry.EntityType,
		&entry.EntityID,
		&changes,
		&previous,
		&entry.IPAddress,
		&entry.UserAgent,
		&sessionID,
		&entry.RiskLevel,
		&flags,
		&entry.ApplicationID,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	if sessionID.Valid {
		entry.SessionID = sessionID.String
	}
	if len(changes) > 0 {
		_ = json.Unmarshal(changes, &entry.Changes)
	}
	if len(previous) > 0 {
		_ = json.Unmarshal(previous, &entry.PreviousValues)
	}
	if len(flags) > 0 {
		_ = json.Unmarshal(flags, &entry.ComplianceFlags)
	}
	return &entry, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
