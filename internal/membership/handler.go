// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/respond"
	"github.com/jules-labs/libranexus/internal/store"
)

type Handler struct {
	service Service
	tokens  *auth.Tokens
}

func NewHandler(service Service, tokens *auth.Tokens) *Handler {
	return &Handler{service: service, tokens: tokens}
}

// LoginResponse carries the bearer token for later requests.
type LoginResponse struct {
	Token  string        `json:"token"`
	Member *store.Member `json:"member"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, member)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	member, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	token, err := h.tokens.Issue(auth.Principal{UserID: member.ID, Role: member.Role})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, LoginResponse{Token: token, Member: member})
}

func (h *Handler) HandleGetMember(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	id, err := respond.UUIDParam(r, "userID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := p.RequireActFor(id); err != nil {
		respond.Error(w, r, err)
		return
	}

	member, err := h.service.FindUser(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, member)
}

func (h *Handler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	id, err := respond.UUIDParam(r, "userID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.service.Promote(r.Context(), p, id); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
