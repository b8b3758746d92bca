package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dealsense/internal/audit"
	"dealsense/internal/calls"
	"dealsense/internal/orchestrator"
	"dealsense/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Repo calls.Repository
	Orch *orchestrator.Orchestrator

	// Trail records administrative actions. Nil disables recording.
	Trail *audit.Service
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrTerminalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// --- Calls ---

type createCallRequest struct {
	CallID      string `json:"call_id,omitempty"`
	DealID      int    `json:"deal_id"`
	AccountName string `json:"account_name"`
	ContactName string `json:"contact_name,omitempty"`
}

// CreateCall registers a call and returns its stream address. Posting an
// existing call id re-confirms it instead of duplicating.
func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AccountName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_name required"})
		return
	}

	call, err := h.Orch.StartCall(c.Request.Context(), orchestrator.StartParams{
		CallID:      req.CallID,
		DealID:      req.DealID,
		AccountName: req.AccountName,
		ContactName: req.ContactName,
	})
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "call creation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"call":       call,
		"stream_url": "/v1/calls/" + call.ID + "/stream",
	})
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Repo.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) ListCallsByDeal(c *gin.Context) {
	dealID, err := strconv.Atoi(c.Param("deal_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "deal_id must be an integer"})
		return
	}
	list, err := h.Repo.ListCallsByDeal(c.Request.Context(), dealID)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "call listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

// EndCall runs the end transition and schedules summary generation in the
// background. Ending an already ended call is a no-op.
func (h Handlers) EndCall(c *gin.Context) {
	call, err := h.Orch.EndCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "end call failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// PurgeCall removes a call and everything attached to it, including the live
// buffer and side-store entries. Administrative.
func (h Handlers) PurgeCall(c *gin.Context) {
	callID := c.Param("call_id")
	if err := h.Orch.PurgeCall(c.Request.Context(), callID); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "purge failed"})
		return
	}
	if err := h.Trail.LogTransition(c.Request.Context(), callID, audit.EventTypeCallPurged, "call purged"); err != nil {
		logger.FromGin(c).Warn("audit append failed", "call_id", callID, "err", err)
	}
	c.Status(http.StatusNoContent)
}

// GetCallEvents returns the audit trail for one call.
func (h Handlers) GetCallEvents(c *gin.Context) {
	callID := c.Param("call_id")
	if _, err := h.Repo.GetCall(c.Request.Context(), callID); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "call lookup failed"})
		return
	}
	events, err := h.Trail.ListByCall(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "events": events})
}

// --- Transcript ---

// GetTranscript returns final chunks, optionally filtered by ?from= and
// ?to= time offsets in seconds.
func (h Handlers) GetTranscript(c *gin.Context) {
	from, err := timeBound(c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be a number"})
		return
	}
	to, err := timeBound(c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be a number"})
		return
	}

	callID := c.Param("call_id")
	if _, err := h.Repo.GetCall(c.Request.Context(), callID); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "call lookup failed"})
		return
	}
	chunks, err := h.Repo.GetTranscript(c.Request.Context(), callID, from, to)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "transcript lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "chunks": chunks, "text": calls.JoinLines(chunks)})
}

func timeBound(s string) (float64, error) {
	if s == "" {
		return -1, nil
	}
	return strconv.ParseFloat(s, 64)
}

type syntheticChunkRequest struct {
	Speaker string   `json:"speaker,omitempty"`
	Text    string   `json:"text"`
	Start   *float64 `json:"start_time,omitempty"`
	End     *float64 `json:"end_time,omitempty"`
}

// AppendSyntheticChunk injects a transcript chunk without audio. Test and
// debug aid.
func (h Handlers) AppendSyntheticChunk(c *gin.Context) {
	var req syntheticChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	chunk, err := h.Orch.AppendSyntheticChunk(c.Request.Context(), c.Param("call_id"), req.Speaker, req.Text, req.Start, req.End)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, chunk)
}

// --- Summary & action items ---

// GetSummary returns the stored summary plus its action items. 404 until
// extraction has completed.
func (h Handlers) GetSummary(c *gin.Context) {
	callID := c.Param("call_id")
	summary, err := h.Repo.GetSummary(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "summary not available"})
		return
	}
	items, err := h.Repo.ListActionItems(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "action item lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "action_items": items})
}

func (h Handlers) ListActionItems(c *gin.Context) {
	items, err := h.Repo.ListActionItems(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "action item lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_items": items})
}

type updateActionItemRequest struct {
	Task     *string `json:"task,omitempty"`
	Owner    *string `json:"owner,omitempty"`
	DueDate  *string `json:"due_date,omitempty"`
	Priority *string `json:"priority,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// UpdateActionItem patches an item's mutable fields. Absent fields are left
// unchanged.
func (h Handlers) UpdateActionItem(c *gin.Context) {
	var req updateActionItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var update calls.ActionItemUpdate
	update.Task = req.Task
	update.DueDate = req.DueDate
	if req.Owner != nil {
		owner := calls.ParseOwner(*req.Owner)
		update.Owner = &owner
	}
	if req.Priority != nil {
		p := calls.ItemPriority(*req.Priority)
		if !calls.ValidPriority(p) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "priority must be high, medium or low"})
			return
		}
		update.Priority = &p
	}
	if req.Status != nil {
		s := calls.ItemStatus(*req.Status)
		if !calls.ValidItemStatus(s) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be pending, in_progress or completed"})
			return
		}
		update.Status = &s
	}

	item, err := h.Repo.UpdateActionItem(c.Request.Context(), c.Param("item_id"), update)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "action item update failed"})
		return
	}
	if err := h.Trail.LogItemUpdate(c.Request.Context(), item.CallID, item.ID, ""); err != nil {
		logger.FromGin(c).Warn("audit append failed", "item_id", item.ID, "err", err)
	}
	c.JSON(http.StatusOK, item)
}
