package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/service"

	"go.uber.org/zap"
)

const pagesPrefix = "/journal/api/v1/pages/"

// JournalHandler page response API over the sync coordinator
type JournalHandler struct {
	coordinator *service.SyncCoordinator
	export      *service.ExportService
	logger      *zap.Logger
}

func NewJournalHandler(coordinator *service.SyncCoordinator, export *service.ExportService, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{coordinator: coordinator, export: export, logger: logger}
}

type saveFieldRequest struct {
	Value *string `json:"value"`
}

// Pages
// GET    /journal/api/v1/pages - every recorded page
// DELETE /journal/api/v1/pages - clear every page
func (h *JournalHandler) Pages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, Ok(h.coordinator.LoadAll(r.Context())))
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, Ok(h.coordinator.ClearAllPageResponses(r.Context())))
	default:
		methodNotAllowed(w)
	}
}

// Page
// GET    /journal/api/v1/pages/:n
// DELETE /journal/api/v1/pages/:n
// PUT    /journal/api/v1/pages/:n/fields/:field  {"value": "..."}
func (h *JournalHandler) Page(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, pagesPrefix), "/")

	page, err := strconv.Atoi(parts[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid page number %q", parts[0])))
		return
	}

	switch {
	case len(parts) == 1:
		h.page(w, r, page)
	case len(parts) == 3 && parts[1] == "fields":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		h.saveField(w, r, page, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *JournalHandler) page(w http.ResponseWriter, r *http.Request, page int) {
	switch r.Method {
	case http.MethodGet:
		res, err := h.coordinator.Load(r.Context(), page)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(res))
	case http.MethodDelete:
		res, err := h.coordinator.ClearPageResponse(r.Context(), page)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(res))
	default:
		methodNotAllowed(w)
	}
}

func (h *JournalHandler) saveField(w http.ResponseWriter, r *http.Request, page int, fieldID string) {
	var req saveFieldRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, Fail("value is required"))
		return
	}

	res, err := h.coordinator.Save(r.Context(), page, fieldID, *req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Outcome == service.PersistenceFailed {
		h.logger.Warn("Save did not persist locally",
			zap.Int("page", page),
			zap.String("field_id", fieldID),
			zap.String("error", res.LocalError),
		)
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// Sync POST /journal/api/v1/sync
func (h *JournalHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.coordinator.SyncLocalToCloud(r.Context())))
}

// Export GET /journal/api/v1/export - XLSX download
func (h *JournalHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, err := h.export.ExportXLSX(r.Context())
	if err != nil {
		h.logger.Error("Export failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export journal"))
		return
	}

	filename := fmt.Sprintf("journal_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidPage) || errors.Is(err, domain.ErrInvalidField) {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
}
