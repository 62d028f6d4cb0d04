package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/buzzicrm/leadflow/internal/engine"
	"github.com/buzzicrm/leadflow/internal/flow"
	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/store"
)

func newTestServer() (*Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	eng := engine.New(st, st, st, flow.NewScriptedStrategy())
	return NewServer(eng, st, WithCountryCode("55")), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func zapiPayload(phone, text, messageID string) map[string]interface{} {
	return map[string]interface{}{
		"fromMe":    false,
		"phone":     phone,
		"messageId": messageID,
		"momment":   time.Now().UnixMilli(),
		"text":      map[string]string{"message": text},
	}
}

func TestWebhookCreatesLead(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990000", "oi", "wamid.1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %+v", resp)
	}

	lead, err := st.FindLeadByPhone("5511999990000")
	if err != nil || lead == nil {
		t.Fatalf("lead not created: %v", err)
	}
	if lead.Stage != models.StageBotTriage {
		t.Errorf("expected stage %q, got %q", models.StageBotTriage, lead.Stage)
	}
}

func TestWebhookIgnoresEchoes(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	payload := zapiPayload("11999990000", "oi", "wamid.1")
	payload["fromMe"] = true
	rec := doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("echoes must be acknowledged with 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusIgnored) {
		t.Errorf("expected ignored status, got %+v", resp)
	}

	leads, _ := st.ListLeads("", "")
	if len(leads) != 0 {
		t.Errorf("echo created a lead: %+v", leads)
	}
}

func TestWebhookIgnoresGarbage(t *testing.T) {
	s, _ := newTestServer()
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("malformed payloads must not trigger redelivery, got %d", rec.Code)
	}

	rec2 := doJSON(t, handler, http.MethodGet, "/webhook/whatsapp", nil)
	if rec2.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec2.Code)
	}
}

func TestWebhookIsIdempotent(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	payload := zapiPayload("11999990000", "oi", "wamid.dup")
	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}

	lead, _ := st.FindLeadByPhone("5511999990000")
	msgs, _ := st.ListMessages(lead.ID)
	if len(msgs) != 2 {
		t.Errorf("redelivery duplicated messages: got %d", len(msgs))
	}
}

func TestSendEndpoint(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990000", "oi", "wamid.1"))
	lead, _ := st.FindLeadByPhone("5511999990000")

	rec := doJSON(t, handler, http.MethodPost, "/send", sendRequest{LeadID: lead.ID, Text: "Olá, aqui é da clínica!"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated, _ := st.GetLead(lead.ID)
	if updated.BotStep != models.StepPaused {
		t.Errorf("team send should pause the bot, got %q", updated.BotStep)
	}

	rec = doJSON(t, handler, http.MethodPost, "/send", sendRequest{LeadID: "missing", Text: "oi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown lead, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/send", sendRequest{LeadID: lead.ID})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing text, got %d", rec.Code)
	}
}

func TestListLeadsFilters(t *testing.T) {
	s, _ := newTestServer()
	handler := s.Handler()

	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990001", "oi", "wamid.1"))
	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990002", "oi", "wamid.2"))

	rec := doJSON(t, handler, http.MethodGet, "/leads", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	leads, ok := resp.Result.([]interface{})
	if !ok || len(leads) != 2 {
		t.Errorf("expected 2 leads, got %+v", resp.Result)
	}

	rec = doJSON(t, handler, http.MethodGet, "/leads?stage=Novos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp = decodeResponse(t, rec)
	if leads, ok := resp.Result.([]interface{}); !ok || len(leads) != 0 {
		t.Errorf("both leads are in triage, expected none in Novos, got %+v", resp.Result)
	}

	rec = doJSON(t, handler, http.MethodGet, "/leads?stage=Unknown", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid stage, got %d", rec.Code)
	}
}

func TestGetLeadDetail(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990000", "oi", "wamid.1"))
	lead, _ := st.FindLeadByPhone("5511999990000")

	rec := doJSON(t, handler, http.MethodGet, "/leads/"+lead.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string     `json:"status"`
		Result leadDetail `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Lead == nil || resp.Result.Lead.ID != lead.ID {
		t.Errorf("unexpected lead: %+v", resp.Result.Lead)
	}
	if len(resp.Result.Messages) != 2 {
		t.Errorf("expected conversation in detail, got %d messages", len(resp.Result.Messages))
	}

	rec = doJSON(t, handler, http.MethodGet, "/leads/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPatchStage(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990000", "oi", "wamid.1"))
	lead, _ := st.FindLeadByPhone("5511999990000")

	rec := doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/leads/%s/stage", lead.ID),
		map[string]string{"stage": string(models.StageScheduled)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := st.GetLead(lead.ID)
	if updated.Stage != models.StageScheduled {
		t.Errorf("stage not updated: %q", updated.Stage)
	}

	// The bot owns the entry columns; operators cannot drag a lead back.
	rec = doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/leads/%s/stage", lead.ID),
		map[string]string{"stage": string(models.StageNew)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bot-owned stage, got %d", rec.Code)
	}
}

func TestPatchStatusAndBot(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990000", "oi", "wamid.1"))
	lead, _ := st.FindLeadByPhone("5511999990000")

	rec := doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/leads/%s/status", lead.ID),
		map[string]string{"status": "hot"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	updated, _ := st.GetLead(lead.ID)
	if updated.Status != models.StatusHot {
		t.Errorf("status not updated: %q", updated.Status)
	}

	rec = doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/leads/%s/status", lead.ID),
		map[string]string{"status": "boiling"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", rec.Code)
	}

	paused := true
	rec = doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/leads/%s/bot", lead.ID),
		map[string]*bool{"paused": &paused})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	updated, _ = st.GetLead(lead.ID)
	if updated.BotStep != models.StepPaused {
		t.Errorf("bot not paused: %q", updated.BotStep)
	}

	rec = doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/leads/%s/bot", lead.ID),
		map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing paused field, got %d", rec.Code)
	}
}

func TestFollowUpEndpoints(t *testing.T) {
	s, st := newTestServer()
	handler := s.Handler()

	doJSON(t, handler, http.MethodPost, "/webhook/whatsapp", zapiPayload("11999990000", "oi", "wamid.1"))
	lead, _ := st.FindLeadByPhone("5511999990000")

	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/leads/%s/followups", lead.ID),
		followupRequest{Text: "Ainda tem interesse?", RunAt: time.Now().Add(time.Hour)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/leads/%s/followups", lead.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if fus, ok := resp.Result.([]interface{}); !ok || len(fus) != 1 {
		t.Errorf("expected 1 follow-up, got %+v", resp.Result)
	}

	rec = doJSON(t, handler, http.MethodPost, "/leads/missing/followups",
		followupRequest{Text: "oi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown lead, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer()
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
