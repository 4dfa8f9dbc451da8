package httpapi

import (
	"net/http"
	"time"

	"insight-call-flow/internal/audit"
	"insight-call-flow/internal/callsync"
	"insight-call-flow/internal/reporting"

	"github.com/gin-gonic/gin"
)

// --- Telfin ---

type telfinCredentialsRequest struct {
	ClientID     string `json:"client_id" validate:"required,max=128"`
	ClientSecret string `json:"client_secret" validate:"required,max=256"`
}

// SaveTelfinCredentials stores the org's OAuth client and drops any cached token.
func (h *Handlers) SaveTelfinCredentials(c *gin.Context) {
	if h.Connections == nil {
		notConfigured(c, "telfin")
		return
	}
	var req telfinCredentialsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := h.Connections.SaveCredentials(c.Request.Context(), who(c).OrgID, req.ClientID, req.ClientSecret); err != nil {
		writeError(c, err)
		return
	}
	h.auditAction(c, audit.EventTelfinCredentialsSaved, "telfin credentials saved", map[string]any{"client_id": req.ClientID})
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *Handlers) ClearTelfinToken(c *gin.Context) {
	if h.Tokens == nil {
		notConfigured(c, "telfin")
		return
	}
	if err := h.Tokens.ClearTokens(c.Request.Context(), who(c).OrgID); err != nil {
		writeError(c, err)
		return
	}
	h.auditAction(c, audit.EventTelfinTokensCleared, "telfin token cleared", nil)
	c.Status(http.StatusNoContent)
}

type syncRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SyncTelfin runs a sync for the caller's org. An empty body syncs the default window.
func (h *Handlers) SyncTelfin(c *gin.Context) {
	if h.Sync == nil {
		notConfigured(c, "telfin sync")
		return
	}
	var req syncRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}
	h.auditAction(c, audit.EventTelfinSyncRequested, "telfin sync requested", nil)
	rep, err := h.Sync.Sync(c.Request.Context(), who(c).OrgID, req.From, req.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handlers) MaterializeTelfin(c *gin.Context) {
	if h.Materializer == nil {
		notConfigured(c, "telfin sync")
		return
	}
	rep, err := h.Materializer.MaterializePending(c.Request.Context(), who(c).OrgID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

type listRecordsQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=pending processing completed skipped error"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

func (h *Handlers) ListTelfinCalls(c *gin.Context) {
	if h.Sync == nil {
		notConfigured(c, "telfin sync")
		return
	}
	var q listRecordsQuery
	if !h.bindQuery(c, &q) {
		return
	}
	items, err := h.Sync.ListRecords(c.Request.Context(), who(c).OrgID, callsync.ListFilter{
		Status: callsync.RecordStatus(q.Status),
		Limit:  q.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// --- Telegram ---

// CreateTelegramSession issues a one-time link code for the caller.
func (h *Handlers) CreateTelegramSession(c *gin.Context) {
	if h.Linker == nil {
		notConfigured(c, "telegram")
		return
	}
	id := who(c)
	s, err := h.Linker.CreateSession(c.Request.Context(), id.UserID, id.OrgID, id.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"code": s.Code, "expires_at": s.ExpiresAt}
	if h.Bot != nil {
		if link := h.Bot.DeepLink(s.Code); link != "" {
			resp["deep_link"] = link
		}
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) ListTelegramLinks(c *gin.Context) {
	if h.Linker == nil {
		notConfigured(c, "telegram")
		return
	}
	links, err := h.Linker.ActiveLinks(c.Request.Context(), who(c).OrgID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": links})
}

// --- Reports ---

type qualityQuery struct {
	From time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// QualityReport defaults to the last 30 days.
func (h *Handlers) QualityReport(c *gin.Context) {
	if h.Reports == nil {
		notConfigured(c, "reports")
		return
	}
	var q qualityQuery
	if !h.bindQuery(c, &q) {
		return
	}
	if q.To.IsZero() {
		q.To = h.clock().UTC()
	}
	if q.From.IsZero() {
		q.From = q.To.AddDate(0, 0, -30)
	}
	out, err := h.Reports.QualitySummary(c.Request.Context(), reporting.QualitySummaryRequest{
		OrgID: who(c).OrgID,
		Range: reporting.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
