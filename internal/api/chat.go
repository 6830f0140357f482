package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/easeaico/soullink/internal/chat"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/types"
)

type chatSendRequest struct {
	SoulID  string `json:"soul_id"`
	Message string `json:"message"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req chatSendRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validID("soul_id", req.SoulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	msg, err := sanitizeMessage(req.Message)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := s.chat.Send(r.Context(), chat.Request{UserID: user.ID, SoulID: req.SoulID, Message: msg})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	soulID := r.URL.Query().Get("soul_id")
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.chat.History(r.Context(), user.ID, soulID, limit)
	if err != nil {
		if errors.Is(err, linkstate.ErrNoLink) {
			writeError(w, http.StatusForbidden, "No link with this soul. Link with this soul first.")
			return
		}
		s.fail(w, r, err)
		return
	}
	if messages == nil {
		messages = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"soul_id":  soulID,
		"messages": messages,
	})
}

func (s *Server) handleChatMemory(w http.ResponseWriter, r *http.Request) {
	soulID := r.URL.Query().Get("soul_id")
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeMemory(w, r, soulID)
}

// writeMemory serves the pair's Soul Memory, or an empty notebook when none
// has been summarized yet.
func (s *Server) writeMemory(w http.ResponseWriter, r *http.Request, soulID string) {
	user := s.currentUser(r)
	link, err := s.links.Get(r.Context(), user.ID, soulID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	body := map[string]any{
		"soul_id":        soulID,
		"summary":        "No memories yet. Start a conversation.",
		"facts":          map[string]string{},
		"milestones":     []string{},
		"total_messages": link.TotalMessagesSent,
	}
	if s.memory != nil {
		mem, err := s.memory.Get(r.Context(), link.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if mem != nil {
			body["summary"] = mem.Summary
			if mem.Facts != nil {
				body["facts"] = mem.Facts
			}
			if mem.Milestones != nil {
				body["milestones"] = mem.Milestones
			}
			body["last_updated"] = mem.UpdatedAt
		}
	}
	writeJSON(w, http.StatusOK, body)
}
