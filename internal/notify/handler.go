// internal/notify/handler.go
package notify

import (
	"net/http"

	"github.com/jules-labs/libranexus/internal/respond"
)

type Handler struct {
	inbox *Inbox
}

func NewHandler(inbox *Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// HandleList returns the caller's notices.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	notices, err := h.inbox.ForUser(r.Context(), p.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, notices)
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	id, err := respond.UUIDParam(r, "noticeID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.inbox.MarkRead(r.Context(), p.UserID, id); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
