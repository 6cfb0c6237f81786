// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"github.com/jules-labs/libranexus/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) HandleAddTitle(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req NewTitle
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	title, err := h.service.AddTitle(r.Context(), p, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, title)
}

func (h *Handler) HandleGetTitle(w http.ResponseWriter, r *http.Request) {
	id, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	title, err := h.service.GetTitle(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, title)
}

// HandleListTitles lists the catalog, or searches it when q is set.
func (h *Handler) HandleListTitles(w http.ResponseWriter, r *http.Request) {
	var (
		titles []TitleView
		err    error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		titles, err = h.service.Search(r.Context(), q)
	} else {
		titles, err = h.service.ListTitles(r.Context())
	}
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, titles)
}

func (h *Handler) HandleCopies(w http.ResponseWriter, r *http.Request) {
	id, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	copies, err := h.service.Copies(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, copies)
}

func (h *Handler) HandleAddCopies(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	id, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req struct {
		Copies int `json:"copies"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	copies, err := h.service.AddCopies(r.Context(), p, id, req.Copies)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, copies)
}

func (h *Handler) HandleRemoveCopy(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	id, err := respond.UUIDParam(r, "copyID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.service.RemoveCopy(r.Context(), p, id); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	id, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	report, err := h.service.Verify(r.Context(), p, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}
