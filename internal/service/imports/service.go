package imports

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/metrics"
	"github.com/ignite/property-imports/internal/pkg/logger"
)

const (
	// DefaultBatchSize is the number of valid rows carried by one message.
	DefaultBatchSize = 100

	// maxLineBytes bounds a single upload line; longer lines fail the job.
	maxLineBytes = 1 << 20
)

// Config tunes the producer.
type Config struct {
	BatchSize int
	// SpoolDir receives a temporary copy of each upload so the background
	// producer does not depend on the request body staying open.
	SpoolDir string
}

// Service is the producer side of the pipeline. It is safe for concurrent use.
type Service struct {
	jobs      JobRepository
	publisher BatchPublisher
	batchSize int
	spoolDir  string
	log       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a producer that stores jobs in jobs and emits batches
// through publisher.
func NewService(jobs JobRepository, publisher BatchPublisher, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		jobs:      jobs,
		publisher: publisher,
		batchSize: cfg.BatchSize,
		spoolDir:  cfg.SpoolDir,
		log:       logger.Component("imports.producer"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// GetJob returns the job if it exists and belongs to tenantID.
func (s *Service) GetJob(ctx context.Context, tenantID, id string) (*domain.ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.jobs.Get(ctx, tenantID, id)
}

// EnqueueImport returns the job for (tenantID, key), creating it when the
// key is new. For a new job the upload is spooled, then streamed into the
// work queue in the background; the returned handle does not wait for that.
// A repeated key returns the existing job and leaves body unread.
func (s *Service) EnqueueImport(ctx context.Context, tenantID, key string, body io.Reader) (*domain.ImportJob, error) {
	tenantID = strings.TrimSpace(tenantID)
	key = strings.TrimSpace(key)
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}

	existing, err := s.jobs.FindByKey(ctx, tenantID, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find import: %w", err)
	}

	spool, err := s.spool(body)
	if err != nil {
		return nil, err
	}

	job, created, err := s.jobs.CreateOrGet(ctx, &domain.ImportJob{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		IdempotencyKey: key,
		Status:         domain.ImportProcessing,
	})
	if err != nil || !created {
		discard(spool)
		if err != nil {
			return nil, fmt.Errorf("create import: %w", err)
		}
		return job, nil
	}

	s.log.Info("import accepted", "job_id", job.ID, "tenant_id", tenantID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer discard(spool)
		if err := s.publishStream(s.ctx, job.ID, tenantID, spool); err != nil {
			s.log.Error("import producer failed", "job_id", job.ID, "error", err)
		}
	}()
	return job, nil
}

// Shutdown waits for background producers. When ctx expires first they are
// cancelled, which marks their jobs failed.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every background producer started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) spool(body io.Reader) (*os.File, error) {
	f, err := os.CreateTemp(s.spoolDir, "import-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	if body != nil {
		if _, err := io.Copy(f, body); err != nil {
			discard(f)
			return nil, fmt.Errorf("read upload: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard(f)
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return f, nil
}

func discard(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// publishStream reads the upload line by line. The first line is the header;
// blank lines are skipped. Invalid rows are counted straight into the job,
// valid rows are published in batches of batchSize. Any error marks the job
// failed; batches already published are not retracted.
//
// An invalid row adds one to processed, failed and total_estimated alike,
// not only to the counters. total_estimated therefore covers every data
// row, and processed == total_estimated stays the completion test once the
// consumer has counted the valid ones.
func (s *Service) publishStream(ctx context.Context, jobID, tenantID string, r io.Reader) (err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			return
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if ferr := s.jobs.MarkFailed(fctx, jobID, err.Error()); ferr != nil {
			s.log.Error("failed to mark import failed", "job_id", jobID, "error", ferr)
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		cols     header
		batch    = make([]domain.PropertyRow, 0, s.batchSize)
		seq      int
		rows     int
		rejected int
	)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if cols == nil {
			cols = parseHeader(line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows++

		row := cols.mapRow(splitLine(line))
		if verr := row.Validate(); verr != nil {
			rejected++
			metrics.RowsRejected.Inc()
			s.log.Debug("row rejected", "job_id", jobID, "line", rows+1, "reason", verr)
			if err := s.jobs.Increment(ctx, jobID, domain.Counters{Processed: 1, Failed: 1, TotalEstimated: 1}); err != nil {
				return fmt.Errorf("count rejected row: %w", err)
			}
			continue
		}

		batch = append(batch, row)
		if len(batch) >= s.batchSize {
			if err := s.flush(ctx, jobID, tenantID, seq, batch); err != nil {
				return err
			}
			seq++
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	if len(batch) > 0 {
		if err := s.flush(ctx, jobID, tenantID, seq, batch); err != nil {
			return err
		}
		seq++
	}

	completed, err := s.jobs.MarkPublished(ctx, jobID)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	s.log.Info("import published",
		"job_id", jobID,
		"rows", rows,
		"rejected", rejected,
		"batches", seq,
		"completed", completed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// flush publishes a copy of batch as message seq, then grows the job's
// total_estimated by its size.
func (s *Service) flush(ctx context.Context, jobID, tenantID string, seq int, batch []domain.PropertyRow) error {
	msg := &domain.BatchMessage{
		JobID:    jobID,
		TenantID: tenantID,
		Seq:      seq,
		Rows:     append([]domain.PropertyRow(nil), batch...),
	}
	if err := s.publisher.PublishBatch(ctx, msg); err != nil {
		return fmt.Errorf("publish batch %d: %w", seq, err)
	}
	metrics.BatchesPublished.Inc()

	if err := s.jobs.Increment(ctx, jobID, domain.Counters{TotalEstimated: int64(len(batch))}); err != nil {
		return fmt.Errorf("add total estimated: %w", err)
	}
	return nil
}
