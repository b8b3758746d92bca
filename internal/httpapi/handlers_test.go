package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dealsense/internal/buffer"
	"dealsense/internal/calls"
	"dealsense/internal/extraction"
	"dealsense/internal/llm"
	"dealsense/internal/orchestrator"
	"dealsense/internal/transcription"
	"dealsense/internal/ws"
)

type modelStub struct{}

func (modelStub) GenerateSummary(context.Context, string, extraction.Metadata) (string, error) {
	return `{"executive_summary":"ok","deal_health_score":6,"deal_health_reason":"fine"}`, nil
}

func (modelStub) GenerateActionItems(context.Context, string, extraction.Metadata) (string, error) {
	return `{"action_items":[{"task":"Send recap","owner":"me","priority":"medium"}]}`, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *calls.MemoryRepo, *orchestrator.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	repo := calls.NewMemoryRepo()
	repo.SetClock(func() time.Time { return now })

	mem := buffer.NewMemory(buffer.Options{})
	pipe := extraction.New(modelStub{})
	pipe.SetClock(func() time.Time { return now })

	orch := orchestrator.New(orchestrator.Options{
		Repo:        repo,
		Buffer:      mem,
		Side:        mem,
		Hub:         ws.NewHub(nil),
		Transcriber: transcription.NewScripted(),
		Answerer:    llm.StaticAnswerer{},
		Pipeline:    pipe,
	})
	orch.SetClock(func() time.Time { return now })

	h := Handlers{Repo: repo, Orch: orch}
	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/calls", h.CreateCall)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.POST("/calls/:call_id/end", h.EndCall)
		v1.DELETE("/calls/:call_id", h.PurgeCall)
		v1.GET("/calls/:call_id/transcript", h.GetTranscript)
		v1.POST("/calls/:call_id/transcript/chunks", h.AppendSyntheticChunk)
		v1.GET("/calls/:call_id/summary", h.GetSummary)
		v1.GET("/calls/:call_id/action-items", h.ListActionItems)
		v1.GET("/deals/:deal_id/calls", h.ListCallsByDeal)
		v1.PATCH("/action-items/:item_id", h.UpdateActionItem)
	}
	return r, repo, orch
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCall(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{
		"call_id": "call-1", "deal_id": 42, "account_name": "Acme",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Call      calls.Call `json:"call"`
		StreamURL string     `json:"stream_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Call.Status != calls.CallStatusInProgress {
		t.Fatalf("status = %s", resp.Call.Status)
	}
	if resp.StreamURL != "/v1/calls/call-1/stream" {
		t.Fatalf("stream_url = %q", resp.StreamURL)
	}

	// Missing account name is rejected.
	w = doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"deal_id": 42})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetCallNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/calls/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestEndCallFlow(t *testing.T) {
	r, _, orch := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"call_id": "call-1", "deal_id": 42, "account_name": "Acme"})
	doJSON(t, r, http.MethodPost, "/v1/calls/call-1/transcript/chunks", gin.H{
		"speaker": "Seller", "text": "a long enough opening line about the rollout plan and timeline",
	})

	// Summary is not available until extraction lands.
	w := doJSON(t, r, http.MethodGet, "/v1/calls/call-1/summary", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("summary before end: status = %d, want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/call-1/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: status = %d, body %s", w.Code, w.Body.String())
	}
	orch.WaitExtractions()

	w = doJSON(t, r, http.MethodGet, "/v1/calls/call-1/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Summary     calls.CallSummary `json:"summary"`
		ActionItems []calls.ActionItem `json:"action_items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.DealHealthScore != 6 {
		t.Fatalf("score = %d", resp.Summary.DealHealthScore)
	}
	if len(resp.ActionItems) == 0 {
		t.Fatalf("expected action items")
	}

	// End of an unknown call reports not found.
	w = doJSON(t, r, http.MethodPost, "/v1/calls/missing/end", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetTranscriptWithRange(t *testing.T) {
	r, repo, _ := newTestRouter(t)
	ctx := context.Background()

	doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"call_id": "call-1", "deal_id": 42, "account_name": "Acme"})
	for i, text := range []string{"first line here", "second line here", "third line here"} {
		s := float64(i * 10)
		if _, err := repo.AddTranscriptChunk(ctx, calls.TranscriptChunk{
			CallID: "call-1", Speaker: "Seller", Text: text, Start: s, End: s + 5, IsFinal: true,
		}); err != nil {
			t.Fatalf("AddTranscriptChunk: %v", err)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/v1/calls/call-1/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Chunks []calls.TranscriptChunk `json:"chunks"`
		Text   string                  `json:"text"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Chunks) != 3 {
		t.Fatalf("chunks = %d", len(resp.Chunks))
	}

	w = doJSON(t, r, http.MethodGet, "/v1/calls/call-1/transcript?from=10&to=15", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].Text != "second line here" {
		t.Fatalf("range filter returned %+v", resp.Chunks)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/calls/call-1/transcript?from=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/calls/missing/transcript", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestUpdateActionItem(t *testing.T) {
	r, repo, _ := newTestRouter(t)
	ctx := context.Background()

	doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"call_id": "call-1", "deal_id": 42, "account_name": "Acme"})
	items, err := repo.CreateActionItems(ctx, []calls.ActionItem{
		{CallID: "call-1", Task: "send recap", Owner: calls.SellerOwner()},
	})
	if err != nil {
		t.Fatalf("CreateActionItems: %v", err)
	}

	w := doJSON(t, r, http.MethodPatch, "/v1/action-items/"+items[0].ID, gin.H{
		"status": "completed", "owner": "Dana",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var item calls.ActionItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Status != calls.ItemStatusCompleted {
		t.Fatalf("status = %s", item.Status)
	}
	if item.Owner.Name != "Dana" {
		t.Fatalf("owner = %+v", item.Owner)
	}
	if item.Task != "send recap" {
		t.Fatalf("unsent fields must not change, task = %q", item.Task)
	}

	w = doJSON(t, r, http.MethodPatch, "/v1/action-items/"+items[0].ID, gin.H{"priority": "urgent"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid priority: status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodPatch, "/v1/action-items/missing", gin.H{"status": "completed"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestPurgeCall(t *testing.T) {
	r, _, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"call_id": "call-1", "deal_id": 42, "account_name": "Acme"})

	w := doJSON(t, r, http.MethodDelete, "/v1/calls/call-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/calls/call-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("purged call still readable: %d", w.Code)
	}
}

func TestListCallsByDeal(t *testing.T) {
	r, _, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"call_id": "c1", "deal_id": 42, "account_name": "Acme"})
	doJSON(t, r, http.MethodPost, "/v1/calls", gin.H{"call_id": "c2", "deal_id": 7, "account_name": "Globex"})

	w := doJSON(t, r, http.MethodGet, "/v1/deals/42/calls", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Calls []calls.Call `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].ID != "c1" {
		t.Fatalf("calls = %+v", resp.Calls)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/deals/nope/calls", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
