package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/services"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
)

type SessionHandler struct {
	sessions services.SessionService
}

func NewSessionHandler(sessions services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return uuid.Nil, false
	}
	return id, true
}

type createSessionRequest struct {
	SourceLabels []string    `json:"sourceLabels"`
	FixedLabels  []string    `json:"fixedLabels"`
	Rows         []rules.Row `json:"rows"`
}

// POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req.SourceLabels, req.FixedLabels, req.Rows)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"id":       session.ID,
		"version":  session.Version,
		"rowCount": session.RowCount,
	})
}

// GET /api/sessions/:id/headers
func (h *SessionHandler) GetHeaders(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	headers, err := h.sessions.GetHeaders(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, headers)
}

// PUT /api/sessions/:id/mappings
func (h *SessionHandler) SaveMappings(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req store.SaveMappingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.sessions.SaveMappings(c.Request.Context(), id, req); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

// PUT /api/sessions/:id/column-counts
func (h *SessionHandler) UpdateColumnCounts(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var counts schema.Counts
	if err := c.ShouldBindJSON(&counts); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	result, err := h.sessions.UpdateColumnCounts(c.Request.Context(), id, counts)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

type formulaRulesRequest struct {
	Rules      []rules.Rule `json:"rules"`
	SampleSize int          `json:"sampleSize"`
}

// POST /api/sessions/:id/formula-rules
func (h *SessionHandler) ApplyFormulaRules(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req formulaRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	result, err := h.sessions.ApplyFormulaRules(c.Request.Context(), id, req.Rules)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

// POST /api/sessions/:id/formula-rules/preview
func (h *SessionHandler) PreviewFormulaRules(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req formulaRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	preview, err := h.sessions.PreviewFormulaRules(c.Request.Context(), id, req.Rules, req.SampleSize)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, preview)
}

// DELETE /api/sessions/:id/formula-rules
func (h *SessionHandler) ClearFormulaRules(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.sessions.ClearFormulaRules(c.Request.Context(), id); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

// GET /api/sessions/:id/version
func (h *SessionHandler) GetVersion(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	version, err := h.sessions.GetVersion(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"version": version})
}

// GET /api/sessions/:id/rows?page=N
func (h *SessionHandler) GetRows(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_page", err)
		return
	}
	rows, err := h.sessions.GetRows(c.Request.Context(), id, page)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, rows)
}

// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
