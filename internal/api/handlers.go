// Package api provides HTTP handlers for LeadFlow endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/zapi"
)

// maxWebhookBodySize caps inbound webhook payloads.
const maxWebhookBodySize = 1 << 20 // 1 MiB

// webhookHandler receives provider webhook callbacks for inbound WhatsApp
// messages. Echoes, group noise, and unparseable payloads are acknowledged
// with 200 so the provider stops redelivering them; processing failures
// return 500 so it retries.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	incoming := zapi.ParseIncomingPayloadWithCountry(body, s.countryCode)
	if incoming == nil {
		// Echo of our own send, non-text event, or malformed payload.
		writeJSONResponse(w, http.StatusOK, models.Ignored("No processable message in payload"))
		return
	}

	if err := s.engine.ProcessIncoming(r.Context(), *incoming); err != nil {
		slog.Error("Server.webhookHandler: processing failed", "error", err, "messageID", incoming.MessageID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message processed", nil))
}

// sendRequest is the payload for the operator send endpoint.
type sendRequest struct {
	LeadID string `json:"lead_id"`
	Text   string `json:"text"`
}

// sendHandler queues an operator message for a lead. Sending as the team
// pauses the bot for that conversation.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.LeadID == "" || req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("lead_id and text are required"))
		return
	}

	lead, err := s.engine.SendTeamMessage(r.Context(), req.LeadID, req.Text)
	if err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		slog.Error("Server.sendHandler: failed to queue message", "error", err, "leadID", req.LeadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to queue message"))
		return
	}

	slog.Info("Server.sendHandler: message queued", "leadID", lead.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message queued", lead))
}

// leadsHandler lists leads with optional stage and status filters.
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stage := models.Stage(r.URL.Query().Get("stage"))
	status := models.Status(r.URL.Query().Get("status"))
	if stage != "" && !models.IsValidStage(stage) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid stage filter"))
		return
	}
	if status != "" && !models.IsValidStatus(status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid status filter"))
		return
	}

	leads, err := s.store.ListLeads(stage, status)
	if err != nil {
		slog.Error("Server.leadsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

// leadSubrouteHandler dispatches /leads/{id} and its nested resources.
func (s *Server) leadSubrouteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	rest := strings.TrimPrefix(r.URL.Path, "/leads/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	leadID := parts[0]

	switch {
	case len(parts) == 1:
		s.getLeadHandler(w, r, leadID)
	case len(parts) == 2 && parts[1] == "stage":
		s.patchStageHandler(w, r, leadID)
	case len(parts) == 2 && parts[1] == "status":
		s.patchStatusHandler(w, r, leadID)
	case len(parts) == 2 && parts[1] == "bot":
		s.patchBotHandler(w, r, leadID)
	case len(parts) == 2 && parts[1] == "followups":
		s.followupsHandler(w, r, leadID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// leadDetail bundles a lead with its conversation for the detail endpoint.
type leadDetail struct {
	Lead     *models.Lead     `json:"lead"`
	Messages []models.Message `json:"messages"`
}

func (s *Server) getLeadHandler(w http.ResponseWriter, r *http.Request, leadID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	lead, err := s.store.GetLead(leadID)
	if err != nil {
		slog.Error("Server.getLeadHandler: lookup failed", "error", err, "leadID", leadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get lead"))
		return
	}
	if lead == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}

	msgs, err := s.store.ListMessages(leadID)
	if err != nil {
		slog.Error("Server.getLeadHandler: messages failed", "error", err, "leadID", leadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load messages"))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leadDetail{Lead: lead, Messages: msgs}))
}

func (s *Server) patchStageHandler(w http.ResponseWriter, r *http.Request, leadID string) {
	if r.Method != http.MethodPatch {
		w.Header().Set("Allow", http.MethodPatch)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Stage models.Stage `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	// Operators move leads through the human side of the board; the bot owns
	// the entry columns.
	if !models.IsManualStage(req.Stage) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid stage"))
		return
	}

	lead, err := s.store.UpdateLead(leadID, models.LeadUpdate{Stage: &req.Stage})
	if err != nil {
		s.writeLeadUpdateError(w, err, leadID)
		return
	}
	slog.Info("Server.patchStageHandler: stage updated", "leadID", leadID, "stage", req.Stage)
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) patchStatusHandler(w http.ResponseWriter, r *http.Request, leadID string) {
	if r.Method != http.MethodPatch {
		w.Header().Set("Allow", http.MethodPatch)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !models.IsValidStatus(req.Status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid status"))
		return
	}

	lead, err := s.store.UpdateLead(leadID, models.LeadUpdate{Status: &req.Status})
	if err != nil {
		s.writeLeadUpdateError(w, err, leadID)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) patchBotHandler(w http.ResponseWriter, r *http.Request, leadID string) {
	if r.Method != http.MethodPatch {
		w.Header().Set("Allow", http.MethodPatch)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Paused *bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Paused == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Field 'paused' is required"))
		return
	}

	lead, err := s.engine.SetBotPaused(leadID, *req.Paused)
	if err != nil {
		s.writeLeadUpdateError(w, err, leadID)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

// followupRequest is the payload for scheduling a follow-up.
type followupRequest struct {
	Text  string    `json:"text"`
	RunAt time.Time `json:"run_at"`
}

func (s *Server) followupsHandler(w http.ResponseWriter, r *http.Request, leadID string) {
	switch r.Method {
	case http.MethodGet:
		fus, err := s.store.ListFollowUpsForLead(leadID)
		if err != nil {
			slog.Error("Server.followupsHandler: list failed", "error", err, "leadID", leadID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list follow-ups"))
			return
		}
		if fus == nil {
			fus = []models.FollowUp{}
		}
		writeJSONResponse(w, http.StatusOK, models.Success(fus))

	case http.MethodPost:
		var req followupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if req.Text == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Field 'text' is required"))
			return
		}
		if req.RunAt.IsZero() {
			req.RunAt = time.Now()
		}

		lead, err := s.store.GetLead(leadID)
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get lead"))
			return
		}
		if lead == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}

		fu := &models.FollowUp{LeadID: leadID, Text: req.Text, RunAt: req.RunAt}
		if err := s.store.CreateFollowUp(fu); err != nil {
			slog.Error("Server.followupsHandler: create failed", "error", err, "leadID", leadID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule follow-up"))
			return
		}
		slog.Info("Server.followupsHandler: follow-up scheduled", "leadID", leadID, "runAt", fu.RunAt)
		writeJSONResponse(w, http.StatusCreated, models.Success(fu))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeLeadUpdateError(w http.ResponseWriter, err error, leadID string) {
	if errors.Is(err, models.ErrLeadNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	slog.Error("Server: lead update failed", "error", err, "leadID", leadID)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update lead"))
}
