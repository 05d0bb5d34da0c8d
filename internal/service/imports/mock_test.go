package imports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/pkg/distlock"
)

// mockJobs is an in-memory JobRepository for testing.
type mockJobs struct {
	mu        sync.Mutex
	byID      map[string]*domain.ImportJob
	creates   int
	failWith  error // returned by Increment when set
	increment []domain.Counters
}

func newMockJobs() *mockJobs {
	return &mockJobs{byID: make(map[string]*domain.ImportJob)}
}

func (m *mockJobs) findKey(tenantID, key string) *domain.ImportJob {
	for _, j := range m.byID {
		if j.TenantID == tenantID && j.IdempotencyKey == key {
			return j
		}
	}
	return nil
}

func (m *mockJobs) CreateOrGet(_ context.Context, job *domain.ImportJob) (*domain.ImportJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.findKey(job.TenantID, job.IdempotencyKey); existing != nil {
		cp := *existing
		return &cp, false, nil
	}
	stored := *job
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.byID[job.ID] = &stored
	m.creates++
	cp := stored
	return &cp, true, nil
}

func (m *mockJobs) FindByKey(_ context.Context, tenantID, key string) (*domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.findKey(tenantID, key); j != nil {
		cp := *j
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *mockJobs) Get(_ context.Context, tenantID, id string) (*domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || j.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobs) GetByID(_ context.Context, id string) (*domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobs) Increment(_ context.Context, id string, d domain.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	j, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	j.Processed += d.Processed
	j.Succeeded += d.Succeeded
	j.Failed += d.Failed
	j.TotalEstimated += d.TotalEstimated
	m.increment = append(m.increment, d)
	return nil
}

func (m *mockJobs) MarkPublished(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	j.Published = true
	if j.Status == domain.ImportProcessing && j.Processed >= j.TotalEstimated {
		j.Status = domain.ImportCompleted
		return true, nil
	}
	return false, nil
}

func (m *mockJobs) MarkCompleted(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok || j.Status != domain.ImportProcessing {
		return false, nil
	}
	j.Status = domain.ImportCompleted
	return true, nil
}

func (m *mockJobs) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = domain.ImportFailed
	j.Error = reason
	return nil
}

func (m *mockJobs) snapshot(id string) domain.ImportJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *mockJobs) put(j domain.ImportJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[j.ID] = &j
}

// mockLedger is an in-memory BatchLedger.
type mockLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{seen: make(map[string]bool)}
}

func ledgerKey(jobID string, seq int) string { return fmt.Sprintf("%s/%d", jobID, seq) }

func (m *mockLedger) IsProcessed(_ context.Context, jobID string, seq int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[ledgerKey(jobID, seq)], nil
}

func (m *mockLedger) MarkProcessed(_ context.Context, jobID string, seq int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey(jobID, seq)
	if m.seen[k] {
		return false, nil
	}
	m.seen[k] = true
	return true, nil
}

func (m *mockLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// mockProperties is an in-memory PropertyRepository. failures makes the
// next N calls return errPersist.
type mockProperties struct {
	mu       sync.Mutex
	rows     map[string][]domain.PropertyRow
	failures int
	calls    int
	rowKO    func(domain.PropertyRow) bool
}

var errPersist = errors.New("connection reset by peer")

func newMockProperties() *mockProperties {
	return &mockProperties{rows: make(map[string][]domain.PropertyRow)}
}

func (m *mockProperties) UpsertRows(_ context.Context, tenantID string, rows []domain.PropertyRow) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return 0, 0, errPersist
	}
	var ok, ko int
	for _, r := range rows {
		if m.rowKO != nil && m.rowKO(r) {
			ko++
			continue
		}
		m.rows[tenantID] = append(m.rows[tenantID], r)
		ok++
	}
	return ok, ko, nil
}

// mockPublisher records published batches. failAt makes the publish of that
// sequence number fail.
type mockPublisher struct {
	mu     sync.Mutex
	msgs   []*domain.BatchMessage
	failAt int
}

func newMockPublisher() *mockPublisher { return &mockPublisher{failAt: -1} }

func (m *mockPublisher) PublishBatch(_ context.Context, msg *domain.BatchMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Seq == m.failAt {
		return errors.New("broker closed channel")
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mockPublisher) published() []*domain.BatchMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.BatchMessage(nil), m.msgs...)
}

// fakeAck records how a delivery was settled. dlqErr makes DeadLetter fail
// the copy and reject the original, like rabbitmq.Delivery does.
type fakeAck struct {
	mu         sync.Mutex
	acks       int
	rejects    int
	deadLetter int
	dlqErr     error
}

func (f *fakeAck) Ack() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAck) Reject() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects++
	return nil
}

func (f *fakeAck) DeadLetter(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dlqErr != nil {
		f.rejects++
		return f.dlqErr
	}
	f.deadLetter++
	f.acks++
	return nil
}

// memLocker is an in-process distlock.Locker. down makes every call fail.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	down     bool
	next     int
	acquired int
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]string)} }

func (l *memLocker) TryAcquire(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return "", false, errors.New("dial tcp: connection refused")
	}
	if _, ok := l.held[name]; ok {
		return "", false, nil
	}
	l.next++
	token := fmt.Sprintf("token-%d", l.next)
	l.held[name] = token
	l.acquired++
	return token, true, nil
}

func (l *memLocker) Acquire(ctx context.Context, name string) (string, error) {
	for {
		token, ok, err := l.TryAcquire(ctx, name, 0)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (l *memLocker) Release(_ context.Context, name, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] != token {
		return false, nil
	}
	delete(l.held, name)
	return true, nil
}

var _ distlock.Locker = (*memLocker)(nil)
