package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentline/agentline/internal/channels"
	"github.com/agentline/agentline/internal/channels/telegram"
)

// maxWebhookBody caps webhook payload reads; Telegram updates are far
// smaller.
const maxWebhookBody = 1 << 20

type deployRequest struct {
	BotToken string `json:"botToken"`
}

// pathParams extracts and validates the agent and channel path values.
func pathParams(r *http.Request) (string, channels.Kind, error) {
	agentID := r.PathValue("agentID")
	if agentID == "" {
		return "", "", channels.ErrBadRequest("agent id is required", nil)
	}
	kind, err := channels.ParseKind(r.PathValue("channel"))
	if err != nil {
		return "", "", err
	}
	return agentID, kind, nil
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	agentID, kind, err := pathParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var material channels.Material
	if kind == channels.KindTelegram {
		var req deployRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, channels.ErrBadRequest("invalid request body", err))
			return
		}
		material.BotToken = req.BotToken
	}

	result, err := s.manager.Deploy(r.Context(), kind, agentID, material)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	agentID, kind, err := pathParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.manager.Restart(r.Context(), kind, agentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	agentID, kind, err := pathParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.manager.Disconnect(r.Context(), kind, agentID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agentID, kind, err := pathParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.manager.Status(r.Context(), kind, agentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleTelegramWebhook receives update pushes from the Bot API. It
// always acknowledges with 200: any other status makes Telegram retry
// the same update indefinitely.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")

	defer func() {
		w.WriteHeader(http.StatusOK)
	}()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("failed to read webhook body", "agent_id", agentID, "error", err)
		return
	}

	inbound, err := telegram.ParseUpdate(payload)
	if err != nil {
		s.logger.Warn("dropping unparseable update", "agent_id", agentID, "error", err)
		return
	}

	if err := s.manager.HandleInbound(r.Context(), channels.KindTelegram, agentID, inbound); err != nil {
		s.logger.Warn("inbound update rejected", "agent_id", agentID, "error", err)
	}
}
