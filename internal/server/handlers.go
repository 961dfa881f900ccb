package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/llm"
	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/sanitize"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type applyBody struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Data       map[string]interface{} `json:"data"`
}

func (s *Server) applyRequest(r *http.Request) (activation.ApplyRequest, error) {
	var body applyBody
	if err := decodeBody(r, &body); err != nil {
		return activation.ApplyRequest{}, err
	}
	return activation.ApplyRequest{
		TenantID:   chi.URLParam(r, "tenant"),
		Module:     chi.URLParam(r, "module"),
		EntityType: body.EntityType,
		EntityID:   body.EntityID,
		Data:       body.Data,
	}, nil
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	req, err := s.applyRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Engine.Apply(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, err := s.applyRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Engine.Preview(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenant, module := chi.URLParam(r, "tenant"), chi.URLParam(r, "module")
	list := s.deps.Store.ListRules
	if r.URL.Query().Get("active") == "true" {
		list = s.deps.Store.ListActive
	}
	rules, err := list(r.Context(), tenant, module)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var draft models.RuleDraft
	if err := decodeBody(r, &draft); err != nil {
		s.writeError(w, r, err)
		return
	}
	draft.TenantID = chi.URLParam(r, "tenant")
	draft.Module = chi.URLParam(r, "module")
	draft.Name = sanitize.SanitizeRuleName(draft.Name)
	draft.Condition = sanitize.SanitizeRuleText(draft.Condition)
	draft.Action = sanitize.SanitizeRuleText(draft.Action)
	if draft.Source == "" {
		draft.Source = models.SourceExplicit
	}

	rule, err := s.deps.Store.CreateRule(r.Context(), draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", models.ErrValidation, v))
			return
		}
		limit = n
	}
	corrections, err := s.deps.Store.ListCorrections(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "module"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if corrections == nil {
		corrections = []models.Correction{}
	}
	writeJSON(w, http.StatusOK, corrections)
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Learner.LearnFromCorrection(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tenant"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleOpenConversation opens a conversation. With a text field it also
// runs the first turn and returns the reply.
func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	var req conversation.SendRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ConversationID = ""
	if strings.TrimSpace(req.Text) == "" {
		id, err := s.deps.Chat.Open(r.Context(), req.OpenRequest)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
		return
	}
	reply, err := s.deps.Chat.Send(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	reply, err := s.deps.Chat.Append(r.Context(), chi.URLParam(r, "id"), body.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Chat.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding request body: %v", models.ErrValidation, err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyApplied):
		return http.StatusConflict
	case errors.Is(err, llm.ErrOracleTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrOracleUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
