package httpapi

import (
	"io"
	"net/http"
	"time"

	"insight-call-flow/internal/calls"

	"github.com/gin-gonic/gin"
)

// MaxUploadBytes caps uploaded recordings.
const MaxUploadBytes = 100 << 20

// UploadCall accepts a multipart "file" and an optional RFC3339 "started_at".
func (h *Handlers) UploadCall(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "calls")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "unreadable file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "unreadable file")
		return
	}

	var startedAt *time.Time
	if raw := c.PostForm("started_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "started_at must be RFC3339")
			return
		}
		t = t.UTC()
		startedAt = &t
	}

	call, err := h.Calls.Upload(c.Request.Context(), calls.UploadRequest{
		OrgID:       who(c).OrgID,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
		StartedAt:   startedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, call)
}

func (h *Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "calls")
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), who(c).OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// GetCallStatus is the polling endpoint.
func (h *Handlers) GetCallStatus(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "calls")
		return
	}
	st, err := h.Calls.Status(c.Request.Context(), who(c).OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type listCallsQuery struct {
	Status string    `form:"status" validate:"omitempty,oneof=pending processing completed failed"`
	From   time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" validate:"omitempty,min=1,max=200"`
}

func (h *Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "calls")
		return
	}
	var q listCallsQuery
	if !h.bindQuery(c, &q) {
		return
	}
	items, err := h.Calls.List(c.Request.Context(), who(c).OrgID, calls.ListFilter{
		Status: calls.Status(q.Status),
		From:   q.From,
		To:     q.To,
		Limit:  q.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handlers) ReprocessCall(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "calls")
		return
	}
	call, err := h.Calls.Reprocess(c.Request.Context(), who(c).OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, call.StatusView())
}
