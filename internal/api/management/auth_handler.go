package management

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/CaioWing/Ledger/internal/api/middleware"
	"github.com/CaioWing/Ledger/internal/api/response"
	"github.com/CaioWing/Ledger/internal/auth"
	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/ledger"
)

const adminUserID = "admin"

type AuthHandler struct {
	jwtMgr        *auth.JWTManager
	adminEmail    string
	adminPassHash string
	recorder      middleware.ActivityRecorder
}

// NewAuthHandler creates an auth handler for the single administrator.
// Logins are recorded through recorder.
func NewAuthHandler(jwtMgr *auth.JWTManager, adminEmail, adminPassHash string, recorder middleware.ActivityRecorder) *AuthHandler {
	return &AuthHandler{
		jwtMgr:        jwtMgr,
		adminEmail:    adminEmail,
		adminPassHash: adminPassHash,
		recorder:      recorder,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// ActAs starts an impersonation session for the given user id.
	ActAs string `json:"act_as,omitempty"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email != h.adminEmail ||
		bcrypt.CompareHashAndPassword([]byte(h.adminPassHash), []byte(req.Password)) != nil {
		h.record(r, nil, "login_failed", domain.NewDetails(
			domain.Field{Key: "email", Value: req.Email},
		))
		response.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	actAs := strings.TrimSpace(req.ActAs)
	token, expiresAt, err := h.jwtMgr.Generate(adminUserID, actAs)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	details := domain.NewDetails(domain.Field{Key: "email", Value: req.Email})
	if actAs != "" {
		details.Set("actAs", actAs)
	}
	h.record(r, &domain.Actor{ID: adminUserID, EffectiveID: actAs}, "login", details)

	response.JSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z"),
	})
}

// Refresh generates a new JWT for an already authenticated user, keeping any
// impersonation in place.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFrom(r.Context())
	if actor == nil || actor.ID == "" {
		response.Error(w, http.StatusUnauthorized, "invalid token")
		return
	}

	token, expiresAt, err := h.jwtMgr.Generate(actor.ID, actor.EffectiveID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	response.JSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z"),
	})
}

func (h *AuthHandler) record(r *http.Request, actor *domain.Actor, action string, details domain.Details) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(context.WithoutCancel(r.Context()), actor, ledger.Event{
		Action:      action,
		Resource:    "sessions",
		Details:     details,
		SessionInfo: middleware.SessionInfo(r),
	})
}
