package api

import (
	"errors"
	"net/http"

	"github.com/flowpbx/callintake/internal/dialogue"
	"github.com/flowpbx/callintake/internal/media"
	"github.com/go-chi/chi/v5"
)

// conversationsResponse is the payload of the session dump.
type conversationsResponse struct {
	TotalConversations int                         `json:"total_conversations"`
	Conversations      map[string]dialogue.Session `json:"conversations"`
}

// handleListConversations returns every in-memory call session.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	all := s.machine.Store().All()
	writeJSON(w, http.StatusOK, conversationsResponse{
		TotalConversations: len(all),
		Conversations:      all,
	})
}

// handleGetConversation returns the session for one call.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.machine.Store().Get(chi.URLParam(r, "callSid"))
	if err != nil {
		if errors.Is(err, dialogue.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "caller not found")
			return
		}
		s.logger.Error("failed to look up session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleMedia serves a synthesized prompt. Supports HTTP range requests.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	path, err := s.media.Path(chi.URLParam(r, "filename"))
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.logger.Error("failed to resolve media file", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}
