package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/pkg/httputil"
	"github.com/ignite/property-imports/internal/service/imports"
)

// ImportService is the producer side used by the handlers.
type ImportService interface {
	EnqueueImport(ctx context.Context, tenantID, key string, body io.Reader) (*domain.ImportJob, error)
	GetJob(ctx context.Context, tenantID, id string) (*domain.ImportJob, error)
}

// ImportHandlers serves the /v1/imports routes.
type ImportHandlers struct {
	svc ImportService
}

func NewImportHandlers(svc ImportService) *ImportHandlers {
	return &ImportHandlers{svc: svc}
}

// ImportAccepted is the body of a successful upload.
type ImportAccepted struct {
	ID     string              `json:"id"`
	Status domain.ImportStatus `json:"status"`
}

// HandleCreate accepts a CSV upload.
//
//	POST /v1/imports
func (h *ImportHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/csv" {
		httputil.UnsupportedMediaType(w, "content type must be text/csv")
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		httputil.BadRequest(w, "Idempotency-Key header is required")
		return
	}

	job, err := h.svc.EnqueueImport(r.Context(), TenantFromContext(r.Context()), key, r.Body)
	switch {
	case errors.Is(err, imports.ErrMissingIdempotencyKey):
		httputil.BadRequest(w, "Idempotency-Key header is required")
		return
	case errors.Is(err, imports.ErrMissingTenant):
		httputil.Unauthorized(w, "missing tenant")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	httputil.Accepted(w, ImportAccepted{ID: job.ID, Status: job.Status})
}

// HandleGet returns one job of the caller's tenant.
//
//	GET /v1/imports/{id}
func (h *ImportHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, imports.ErrNotFound) {
		httputil.NotFound(w, "import not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, job)
}
