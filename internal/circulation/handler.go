// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type borrowRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	CopyID  uuid.UUID `json:"copy_id"`
	TitleID uuid.UUID `json:"title_id"`
}

// decodeFor reads the body and checks the caller may act for req's user.
// A missing user id defaults to the caller.
func decodeFor(r *http.Request, userID *uuid.UUID, v any) error {
	p, err := respond.Principal(r)
	if err != nil {
		return err
	}
	if err := respond.Decode(r, v); err != nil {
		return err
	}
	if *userID == uuid.Nil {
		*userID = p.UserID
	}
	return p.RequireActFor(*userID)
}

// HandleBorrow lends a specific copy when copy_id is set, otherwise any copy of title_id.
func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeFor(r, &req.UserID, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	var err error
	var loan any
	switch {
	case req.CopyID != uuid.Nil:
		loan, err = h.service.BorrowCopy(r.Context(), req.UserID, req.CopyID)
	case req.TitleID != uuid.Nil:
		loan, err = h.service.BorrowTitle(r.Context(), req.UserID, req.TitleID)
	default:
		err = fault.New(fault.ErrInvalid, "copy_id or title_id is required")
	}
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleExtend(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeFor(r, &req.UserID, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	loan, err := h.service.Extend(r.Context(), req.UserID, req.TitleID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, loan)
}

// ownedLoan loads the loan in the URL and checks the caller may see it.
func (h *Handler) ownedLoan(r *http.Request) (uuid.UUID, error) {
	p, err := respond.Principal(r)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := respond.UUIDParam(r, "loanID")
	if err != nil {
		return uuid.Nil, err
	}
	loan, err := h.service.Loan(r.Context(), id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, p.RequireActFor(loan.UserID)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedLoan(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	loan, err := h.service.ReturnLoan(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedLoan(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	loan, err := h.service.Loan(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedLoan(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, events)
}

// memberParam resolves {userID} and checks the caller may act for it.
func memberParam(r *http.Request) (uuid.UUID, error) {
	p, err := respond.Principal(r)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := respond.UUIDParam(r, "userID")
	if err != nil {
		return uuid.Nil, err
	}
	return id, p.RequireActFor(id)
}

func (h *Handler) HandleMemberLoans(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	loans, err := h.service.LoansByUser(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleMemberReservations(w http.ResponseWriter, r *http.Request) {
	id, err := memberParam(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	entries, err := h.service.Reservations(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err == nil {
		err = p.RequireAdmin()
	}
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	loans, err := h.service.OverdueLoans(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, loans)
}

type queueRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	titleID, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req queueRequest
	if err := decodeFor(r, &req.UserID, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	entry, err := h.service.Reserve(r.Context(), req.UserID, titleID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	titleID, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	userID, err := memberParam(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.service.Leave(r.Context(), userID, titleID); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PositionResponse is the caller's view of one queue.
type PositionResponse struct {
	Position  int  `json:"position"`
	CanBorrow bool `json:"can_borrow"`
}

func (h *Handler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	titleID, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	userID, err := memberParam(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	pos, err := h.service.Position(r.Context(), userID, titleID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	ok, err := h.service.CanBorrow(r.Context(), userID, titleID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, PositionResponse{Position: pos, CanBorrow: ok})
}

func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	titleID, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	entries, err := h.service.Queue(r.Context(), titleID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	titleID, err := respond.UUIDParam(r, "titleID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	head, err := h.service.Head(r.Context(), titleID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if head == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respond.JSON(w, http.StatusOK, head)
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err == nil {
		err = p.RequireAdmin()
	}
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	report, err := h.service.Sweep(r.Context())
	if err != nil && report.RanAt.IsZero() {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

type expireRequest struct {
	OlderThan string `json:"older_than"`
}

func (h *Handler) HandleExpire(w http.ResponseWriter, r *http.Request) {
	p, err := respond.Principal(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req expireRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	olderThan, err := time.ParseDuration(req.OlderThan)
	if err != nil || olderThan < 0 {
		respond.Error(w, r, fault.New(fault.ErrInvalid, "older_than must be a positive duration"))
		return
	}
	report, err := h.service.ExpireNotified(r.Context(), p, olderThan)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}
