package management

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CaioWing/Ledger/internal/api/response"
	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/ledger"
	"github.com/CaioWing/Ledger/internal/service"
)

type ActivityHandler struct {
	activitySvc *service.ActivityService
}

func NewActivityHandler(activitySvc *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activitySvc: activitySvc}
}

func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := response.ParsePagination(r)

	filter := domain.ActivityFilter{
		Page:    page,
		PerPage: perPage,
	}

	if v := r.URL.Query().Get("actor"); v != "" {
		filter.ActorID = &v
	}
	if v := r.URL.Query().Get("action"); v != "" {
		filter.Action = &v
	}
	if v := r.URL.Query().Get("resource"); v != "" {
		filter.Resource = &v
	}
	if v := r.URL.Query().Get("order"); v != "" {
		filter.SortOrder = v
	}

	records, total, err := h.activitySvc.List(r.Context(), filter)
	if err != nil {
		response.FromError(w, err, "failed to list activity log")
		return
	}

	response.Paginated(w, records, page, perPage, total)
}

func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseInt(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid sequence number")
		return
	}

	rec, err := h.activitySvc.Get(r.Context(), seq)
	if err != nil {
		response.FromError(w, err, "failed to get activity record")
		return
	}

	response.JSON(w, http.StatusOK, rec)
}

type headResponse struct {
	SequenceNumber int64  `json:"sequence_number"`
	ContentHash    string `json:"content_hash"`
}

// Head returns the tip of the chain so it can be anchored outside the store.
// An empty log reports sequence 0 and the genesis sentinel.
func (h *ActivityHandler) Head(w http.ResponseWriter, r *http.Request) {
	rec, err := h.activitySvc.Head(r.Context())
	if err != nil {
		response.FromError(w, err, "failed to read chain head")
		return
	}

	resp := headResponse{ContentHash: domain.GenesisHash}
	if rec != nil {
		resp.SequenceNumber = rec.SequenceNumber
		resp.ContentHash = rec.ContentHash
	}
	response.JSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	Start      int64 `json:"start"`
	End        int64 `json:"end"`
	CollectAll bool  `json:"collect_all"`
}

// Verify replays the chain. Tamper findings are part of a 200 response; only
// a failure to read the store is a server error.
func (h *ActivityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.activitySvc.Verify(r.Context(), ledger.VerifyOptions{
		Start:      req.Start,
		End:        req.End,
		CollectAll: req.CollectAll,
	})
	if err != nil {
		response.FromError(w, err, "failed to verify activity chain")
		return
	}

	response.JSON(w, http.StatusOK, report)
}

func (h *ActivityHandler) LastVerification(w http.ResponseWriter, r *http.Request) {
	report, err := h.activitySvc.LastVerification(r.Context())
	if err != nil {
		response.FromError(w, err, "failed to load verification report")
		return
	}

	response.JSON(w, http.StatusOK, report)
}
