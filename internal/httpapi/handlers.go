package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/audit"
	"insight-call-flow/internal/auth"
	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/callsync"
	"insight-call-flow/internal/reporting"
	"insight-call-flow/internal/telegram"
	"insight-call-flow/internal/telephony"
	"insight-call-flow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	Calls        *calls.Service
	Connections  *telephony.ConnectionStore
	Tokens       *telephony.TokenManager
	Sync         *callsync.Service
	Materializer *callsync.Materializer
	Linker       *telegram.Linker
	Bot          *telegram.Bot
	Reports      *reporting.Service
	Audit        *audit.Service

	// Ready reports dependency health for /readyz.
	Ready func(ctx context.Context) error
	// DevLogin enables the credential-less login endpoint.
	DevLogin bool

	validate *validator.Validate
	clock    func() time.Time
}

// New returns a copy of deps ready to serve.
func New(deps Handlers) *Handlers {
	h := deps
	h.validate = validator.New()
	h.clock = time.Now
	return &h
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

func notConfigured(c *gin.Context, what string) {
	abort(c, http.StatusInternalServerError, apperr.CodeConfiguration, what+" not configured")
}

// writeError maps domain errors to HTTP responses. Unknown errors are logged
// and reported; their text never reaches the client.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound),
		errors.Is(err, callsync.ErrRecordNotFound):
		abort(c, http.StatusNotFound, apperr.CodeNotFound, "not found")
	case errors.Is(err, telephony.ErrConnectionNotFound):
		abort(c, http.StatusNotFound, apperr.CodeNotFound, "telfin is not connected")
	case errors.Is(err, calls.ErrAlreadyProcessing):
		abort(c, http.StatusConflict, apperr.CodeConflict, "call is already processing")
	case errors.Is(err, callsync.ErrSyncInProgress):
		abort(c, http.StatusConflict, apperr.CodeConflict, "sync already running")
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, callsync.ErrInvalidWindow),
		errors.Is(err, reporting.ErrInvalidRequest):
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		var ae *apperr.Error
		if errors.As(err, &ae) {
			abort(c, apperr.HTTPStatus(err), ae.Code, ae.Error())
			return
		}
		logger.FromGin(c).Error("request failed", "err", err)
		logger.CaptureError(c.Request.Context(), err, map[string]string{"component": "httpapi"})
		abort(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// bindJSON decodes and validates the body; it answers 400 itself on failure.
func (h *Handlers) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return false
	}
	return true
}

func (h *Handlers) bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid query")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return false
	}
	return true
}

type identity struct {
	UserID string
	OrgID  string
	Role   string
}

// who reads the identity injected by auth.RequireAccessToken.
func who(c *gin.Context) identity {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	oid, _ := auth.OrgID(ctx)
	role, _ := auth.Role(ctx)
	return identity{UserID: uid, OrgID: oid, Role: role}
}

func (h *Handlers) auditAction(c *gin.Context, typ audit.EventType, message string, metadata map[string]any) {
	if h.Audit == nil {
		return
	}
	id := who(c)
	actor := audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
	if err := h.Audit.LogAdminAction(c.Request.Context(), id.OrgID, actor, typ, message, metadata); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", typ, "err", err)
	}
}

// --- Health ---

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	OrgID  string `json:"org_id" validate:"required,max=64"`
	Role   string `json:"role" validate:"required,oneof=owner admin manager viewer super_admin"`
}

// Login issues a JWT token pair without checking credentials. It only exists
// outside production (DevLogin).
func (h *Handlers) Login(c *gin.Context) {
	if !h.DevLogin {
		abort(c, http.StatusNotFound, apperr.CodeNotFound, "not found")
		return
	}
	if h.Auth == nil {
		notConfigured(c, "auth")
		return
	}
	var req loginRequest
	if !h.bindJSON(c, &req) {
		return
	}
	pair, err := h.Auth.IssuePair(h.clock(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		abort(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		notConfigured(c, "auth")
		return
	}
	var req refreshRequest
	if !h.bindJSON(c, &req) {
		return
	}
	now := h.clock()
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
		return
	}
	pair, err := h.Auth.IssuePair(now, claims.UserID, claims.OrgID, claims.Role)
	if err != nil {
		abort(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handlers) Me(c *gin.Context) {
	id := who(c)
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "org_id": id.OrgID, "role": id.Role})
}
