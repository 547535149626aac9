// Package auditlog records and queries the append-only audit trail.
// Writes are taken off the request hot path by a single background
// writer; geo enrichment happens there, never in a handler.
package auditlog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/geo"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
)

// writeTimeout bounds one audit insert from the background writer.
const writeTimeout = 10 * time.Second

// Service appends, queries and exports audit events.
type Service struct {
	repo     repository.AuditRepository
	resolver *geo.Resolver
	logger   *zap.Logger

	queue chan *audit.Event
	wg    sync.WaitGroup
	once  sync.Once
}

// NewService starts the background writer. resolver may be nil; events
// then carry no geo enrichment.
func NewService(repo repository.AuditRepository, resolver *geo.Resolver, logger *zap.Logger) *Service {
	s := &Service{
		repo:     repo,
		resolver: resolver,
		logger:   logger.Named("auditlog"),
		queue:    make(chan *audit.Event, 256),
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

// Record queues an event for enrichment and insertion. When the queue
// is saturated the event is written inline so nothing is dropped.
func (s *Service) Record(ctx context.Context, e *audit.Event) {
	if e == nil {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.write(e)
	}
}

// RecordSync enriches and writes the event before returning. Used where
// the caller needs the row to exist, e.g. the meta-audit on export.
func (s *Service) RecordSync(ctx context.Context, e *audit.Event) error {
	s.enrich(e)
	return s.repo.Append(ctx, e)
}

// Query returns a filtered page of events and writes the meta-audit row
// attributing the view to the acting admin.
func (s *Service) Query(ctx context.Context, f *audit.Filter, actor uuid.UUID, ip, userAgent string) ([]*audit.Event, int, error) {
	events, total, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	s.Record(ctx, audit.New(audit.ActionAuditView, audit.OutcomeSuccess, ip).
		WithPrincipal(actor).
		WithUserAgent(userAgent).
		WithDetail(map[string]interface{}{"page": f.Page, "per_page": f.PerPage, "total": total}))

	return events, total, nil
}

// Stream walks matching events oldest-first. The export meta-audit row
// is written first, synchronously, so an export that dies mid-stream is
// still on record.
func (s *Service) Stream(ctx context.Context, f *audit.Filter, actor uuid.UUID, ip, userAgent string, fn func(*audit.Event) error) error {
	meta := audit.New(audit.ActionAuditExport, audit.OutcomeSuccess, ip).
		WithPrincipal(actor).
		WithUserAgent(userAgent)
	if err := s.RecordSync(ctx, meta); err != nil {
		return err
	}
	return s.repo.Stream(ctx, f, fn)
}

// Close flushes queued events and stops the writer.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *Service) writer() {
	defer s.wg.Done()
	for e := range s.queue {
		s.write(e)
	}
}

func (s *Service) write(e *audit.Event) {
	s.enrich(e)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.repo.Append(ctx, e); err != nil {
		// Audit writes must not take the request down with them, but a
		// lost event is worth an error-level line.
		s.logger.Error("audit append failed",
			zap.String("action", string(e.Action)),
			zap.String("outcome", string(e.Outcome)),
			zap.Error(err))
	}
}

func (s *Service) enrich(e *audit.Event) {
	if s.resolver == nil || e.IP == "" || len(e.Geo) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	loc := s.resolver.Resolve(ctx, e.IP)
	geoDoc := map[string]string{"source": loc.Source}
	if loc.Country != "" {
		geoDoc["country"] = loc.Country
	}
	if loc.Region != "" {
		geoDoc["region"] = loc.Region
	}
	if loc.City != "" {
		geoDoc["city"] = loc.City
	}
	if loc.Lat != 0 || loc.Lon != 0 {
		geoDoc["lat"] = strconv.FormatFloat(loc.Lat, 'f', 4, 64)
		geoDoc["lon"] = strconv.FormatFloat(loc.Lon, 'f', 4, 64)
	}
	e.WithGeo(geoDoc)
}
