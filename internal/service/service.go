package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"elektromart/backend/internal/cache"
	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/metrics"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("acting employee required")
	ErrForbidden       = errors.New("admin role required")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500

	maxNumberAttempts = 3
)

type Options struct {
	// Sequences overrides the repository's own order counter, e.g. with Redis.
	Sequences   store.SequenceSource
	ReportCache cache.ReportCache
	ReportTTL   time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Service is the transaction coordinator: it loads aggregates, lets them
// decide, and hands the resulting state plus stock adjustments to the store
// as one commit.
type Service struct {
	repo      store.Repository
	sequences store.SequenceSource
	reports   cache.ReportCache
	reportTTL time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:      repo,
		sequences: opts.Sequences,
		reports:   opts.ReportCache,
		reportTTL: opts.ReportTTL,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
	if s.sequences == nil {
		s.sequences = repo
	}
	if s.reports == nil {
		s.reports = cache.NoopReportCache{}
	}
	if s.reportTTL <= 0 {
		s.reportTTL = time.Minute
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func requireActor(actor domain.Actor) error {
	if actor.IsZero() {
		return ErrUnauthenticated
	}
	return nil
}

// resolveEmployee re-reads the acting employee so a deactivated account
// cannot keep writing with an old token.
func (s *Service) resolveEmployee(ctx context.Context, actor domain.Actor) (*domain.Employee, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	employee, err := s.repo.GetEmployee(ctx, actor.EmployeeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !employee.Active {
		return nil, ErrForbidden
	}
	return employee, nil
}

// requireAdmin checks the stored role, not the one in the token, so a
// demoted admin loses access immediately.
func (s *Service) requireAdmin(ctx context.Context, actor domain.Actor) (*domain.Employee, error) {
	employee, err := s.resolveEmployee(ctx, actor)
	if err != nil {
		return nil, err
	}
	if employee.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	return employee, nil
}

// assignOrderNumber draws a daily number and hands it to create. A number
// collision means the counter fell behind the stored orders (a flushed Redis
// key, or a restart on the other counter); the counter is moved past the
// highest stored number and the draw retried.
func (s *Service) assignOrderNumber(ctx context.Context, prefix string, date time.Time, create func(number string) error) error {
	var floor int64
	for attempt := 1; ; attempt++ {
		seq, err := s.sequences.NextSequence(ctx, prefix, date)
		if err != nil {
			return fmt.Errorf("next %s sequence: %w", prefix, err)
		}
		if seq <= floor {
			seq = floor + 1
		}
		number, err := domain.FormatOrderNumber(prefix, date, seq)
		if err != nil {
			return err
		}

		err = create(number)
		if !errors.Is(err, store.ErrConflict) || attempt == maxNumberAttempts {
			return err
		}
		if floor, err = s.resyncSequence(ctx, prefix, date); err != nil {
			return err
		}
		s.logger.Warn("order number collided, counter resynced",
			zap.String("number", number),
			zap.Int64("floor", floor))
	}
}

func (s *Service) resyncSequence(ctx context.Context, prefix string, date time.Time) (int64, error) {
	floor, err := s.repo.MaxOrderSequence(ctx, prefix, date)
	if err != nil {
		return 0, fmt.Errorf("highest %s sequence: %w", prefix, err)
	}
	if seeder, ok := s.sequences.(store.SequenceSeeder); ok {
		if err := seeder.SeedSequence(ctx, prefix, date, floor); err != nil {
			return 0, fmt.Errorf("seed %s sequence: %w", prefix, err)
		}
	}
	return floor, nil
}

// stockCommitted runs the side effects that follow a successful stock write.
func (s *Service) stockCommitted(ctx context.Context, adjustments []domain.StockAdjustment) {
	if len(adjustments) == 0 {
		return
	}
	s.metrics.RecordAdjustments(adjustments)
	if err := s.reports.InvalidateRestockReport(ctx); err != nil {
		s.logger.Warn("failed to invalidate restock report", zap.Error(err))
	}
}

func (s *Service) stockRejected(err error) {
	if errors.Is(err, domain.ErrInsufficientStock) {
		s.metrics.RecordInsufficientStock()
	}
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if actor.IsZero() {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorID:       actor.EmployeeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, actor domain.Actor, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	date = strings.TrimSpace(date)
	var day time.Time
	if date == "" {
		day = s.now().Truncate(24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.NewValidationError("date", "must be YYYY-MM-DD")
		}
		day = parsed
	}
	return s.repo.ListAuditLogs(ctx, day, day.Add(24*time.Hour), clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func orderDate(requested *time.Time, now time.Time) (time.Time, error) {
	if requested == nil || requested.IsZero() {
		return now, nil
	}
	if requested.After(now) {
		return time.Time{}, domain.NewValidationError("date", "cannot be in the future")
	}
	return requested.UTC(), nil
}
