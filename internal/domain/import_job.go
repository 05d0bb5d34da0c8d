package domain

import "time"

// ImportStatus is the lifecycle state of an import job.
type ImportStatus string

const (
	// ImportPending is a placeholder initial value; the pipeline never sets it.
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s ImportStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed
}

// ImportJob is one bulk upload and its progress counters. Counters only ever
// move forward through store-level increments.
type ImportJob struct {
	ID             string       `json:"id" db:"id"`
	TenantID       string       `json:"tenant_id" db:"tenant_id"`
	IdempotencyKey string       `json:"idempotency_key" db:"idempotency_key"`
	Status         ImportStatus `json:"status" db:"status"`
	Processed      int64        `json:"processed" db:"processed"`
	Succeeded      int64        `json:"succeeded" db:"succeeded"`
	Failed         int64        `json:"failed" db:"failed"`
	TotalEstimated int64        `json:"total_estimated" db:"total_estimated"`
	Published      bool         `json:"published" db:"published"`
	Error          string       `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Done reports whether every row the producer announced has been accounted
// for. It does not look at Status.
func (j *ImportJob) Done() bool {
	return j.Published && j.Processed >= j.TotalEstimated
}

// Counters is a delta applied to a job in a single store-level update.
type Counters struct {
	Processed      int64
	Succeeded      int64
	Failed         int64
	TotalEstimated int64
}

// IsZero reports whether applying c would change nothing.
func (c Counters) IsZero() bool {
	return c == Counters{}
}
