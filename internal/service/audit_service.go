package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/loanguard/loanguard/internal/logger"
	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
	exportBatchSize   = 500
)

// AuditService is the read side of the compliance ledger: filtered queries,
// rollups, and exports. Appends happen inside the services that own the
// audited actions, never here.
type AuditService struct {
	store repository.Store
	log   *logger.Logger
	now   func() time.Time
}

// AuditOption configures an AuditService.
type AuditOption func(*AuditService)

// WithAuditClock overrides the time source (useful for tests).
func WithAuditClock(fn func() time.Time) AuditOption {
	return func(s *AuditService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewAuditService creates a new AuditService
func NewAuditService(store repository.Store, log *logger.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store: store,
		log:   log.WithComponent("audit_service"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pagination describes the page of a QueryResult
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// QueryResult is one page of ledger entries
type QueryResult struct {
	Logs       []model.AuditLogEntry `json:"logs"`
	Pagination Pagination            `json:"pagination"`
}

// Query returns one page of entries matching the filter, newest first.
// Page and limit are clamped to sane bounds before hitting the store.
func (s *AuditService) Query(ctx context.Context, filter model.AuditFilter) (*QueryResult, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}

	entries, total, err := s.store.Audit().Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	totalPages := (total + filter.Limit - 1) / filter.Limit
	if totalPages < 1 {
		totalPages = 1
	}
	return &QueryResult{
		Logs: entries,
		Pagination: Pagination{
			Total:      total,
			Page:       filter.Page,
			Limit:      filter.Limit,
			TotalPages: totalPages,
		},
	}, nil
}

// Summary rolls up the last n days of ledger activity. Days defaults to 30
// and is capped at a year.
func (s *AuditService) Summary(ctx context.Context, days int) (*model.AuditSummary, error) {
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)

	summary, err := s.store.Audit().Aggregate(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit log: %w", err)
	}
	return summary, nil
}

// ComplianceReport groups the compliance-flagged activity of a date range for
// regulators: the flagged entries themselves plus counts per flag.
type ComplianceReport struct {
	Start        time.Time             `json:"startDate"`
	End          time.Time             `json:"endDate"`
	GeneratedAt  time.Time             `json:"generatedAt"`
	TotalFlagged int                   `json:"totalFlagged"`
	ByFlag       map[string]int        `json:"byFlag"`
	Entries      []model.AuditLogEntry `json:"entries"`
}

// Report builds a compliance report over the given range. A zero end means
// "now"; a zero start means 30 days before end.
func (s *AuditService) Report(ctx context.Context, start, end time.Time) (*ComplianceReport, error) {
	now := s.now().UTC()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must precede end", repository.ErrInvalidInput)
	}

	flagged, err := s.store.Audit().Flagged(ctx, start, end, maxQueryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load flagged entries: %w", err)
	}

	byFlag := make(map[string]int)
	for _, entry := range flagged {
		for _, flag := range entry.ComplianceFlags {
			byFlag[flag]++
		}
	}

	return &ComplianceReport{
		Start:        start,
		End:          end,
		GeneratedAt:  now,
		TotalFlagged: len(flagged),
		ByFlag:       byFlag,
		Entries:      flagged,
	}, nil
}

// Export returns every entry matching the filter, paging through the store in
// batches. Backs the json export format; csv streams through ExportCSV.
func (s *AuditService) Export(ctx context.Context, filter model.AuditFilter) ([]model.AuditLogEntry, error) {
	filter.Page = 1
	filter.Limit = exportBatchSize

	var out []model.AuditLogEntry
	for {
		entries, total, err := s.store.Audit().Query(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query audit log: %w", err)
		}
		out = append(out, entries...)
		if len(out) >= total || len(entries) == 0 {
			break
		}
		filter.Page++
	}
	if out == nil {
		// An empty export is still a json array
		out = []model.AuditLogEntry{}
	}
	return out, nil
}

// csvHeader is the fixed export column order. Consumers parse by position;
// never reorder.
var csvHeader = []string{"timestamp", "userId", "userEmail", "action", "entityType", "entityId", "ipAddress", "riskLevel"}

// ExportCSV streams all entries matching the filter to w in CSV form,
// paging through the store in batches.
func (s *AuditService) ExportCSV(ctx context.Context, filter model.AuditFilter, w io.Writer) (int, error) {
	filter.Page = 1
	filter.Limit = exportBatchSize

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}

	written := 0
	for {
		entries, total, err := s.store.Audit().Query(ctx, filter)
		if err != nil {
			return written, fmt.Errorf("failed to query audit log: %w", err)
		}
		for _, entry := range entries {
			record := []string{
				entry.Timestamp.UTC().Format(time.RFC3339),
				entry.ActorID,
				entry.ActorEmail,
				entry.Action,
				entry.EntityType,
				entry.EntityID,
				entry.IPAddress,
				string(entry.RiskLevel),
			}
			if err := cw.Write(record); err != nil {
				return written, fmt.Errorf("failed to write csv record: %w", err)
			}
			written++
		}
		if written >= total || len(entries) == 0 {
			break
		}
		filter.Page++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("failed to flush csv: %w", err)
	}

	s.log.Info().Int("entries", written).Msg("audit export complete")
	return written, nil
}
