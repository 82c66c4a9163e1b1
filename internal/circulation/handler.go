// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Handler exposes the circulation service over HTTP. Identifiers are opaque
// strings on the wire; dates are calendar dates (YYYY-MM-DD).
type Handler struct {
	service Service
	logger  *zap.SugaredLogger
}

func NewHandler(service Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{service: service, logger: logger}
}

// SetupRouter wires the HTTP routes, applying the given middleware to every
// route.
func (h *Handler) SetupRouter(mw ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}

	r.Route("/books", func(r chi.Router) {
		r.Post("/", h.RegisterBook)
		r.Get("/{id}", h.GetBook)
		r.Get("/{id}/reservations", h.BookReservations)
	})

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", h.CreateLoan)
		r.Get("/active", h.ActiveLoans)
		r.Get("/overdue", h.OverdueLoans)
		r.Post("/{id}/return", h.ReturnLoan)
		r.Post("/{id}/extend", h.ExtendLoan)
	})

	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.CreateReservation)
		r.Post("/{id}/cancel", h.CancelReservation)
		r.Post("/{id}/convert", h.ConvertReservation)
	})

	r.Route("/members", func(r chi.Router) {
		r.Get("/{id}/reservations", h.MemberReservations)
		r.Post("/{id}/suspension", h.ApplySuspension)
	})

	r.Post("/maintenance/expire", h.ExpireStale)
	r.Get("/stats", h.Statistics)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
	return r
}

// loanResponse presents a loan with its fine in currency units.
type loanResponse struct {
	ID               uuid.UUID `json:"id"`
	BookID           uuid.UUID `json:"book_id"`
	MemberID         uuid.UUID `json:"member_id"`
	LoanDate         string    `json:"loan_date"`
	DueDate          string    `json:"due_date"`
	ActualReturnDate *string   `json:"actual_return_date,omitempty"`
	Returned         bool      `json:"returned"`
	FineAmount       float64   `json:"fine_amount"`
}

func toLoanResponse(l *Loan) loanResponse {
	resp := loanResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		LoanDate:   l.LoanDate.Format(dateLayout),
		DueDate:    l.DueDate.Format(dateLayout),
		Returned:   l.Returned,
		FineAmount: centsToAmount(l.FineCents),
	}
	if l.ReturnedAt != nil {
		d := l.ReturnedAt.Format(dateLayout)
		resp.ActualReturnDate = &d
	}
	return resp
}

func (h *Handler) RegisterBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Author   string `json:"author"`
		ISBN     string `json:"isbn"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	book := Book{Title: req.Title, Author: req.Author, ISBN: req.ISBN, Category: req.Category}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			http.Error(w, "invalid book ID", http.StatusBadRequest)
			return
		}
		book.ID = id
	}

	view, err := h.service.RegisterBook(r.Context(), book)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookID   string `json:"book_id"`
		MemberID string `json:"member_id"`
		DueDate  string `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		http.Error(w, "invalid book ID", http.StatusBadRequest)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}
	dueDate, ok := h.optionalDate(w, req.DueDate)
	if !ok {
		return
	}

	loan, err := h.service.LoanBook(r.Context(), bookID, memberID, dueDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ActualReturnDate string `json:"actual_return_date"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	returnDate, ok := h.optionalDate(w, req.ActualReturnDate)
	if !ok {
		return
	}

	loan, err := h.service.ReturnBook(r.Context(), id, returnDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *Handler) ExtendLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		DueDate string `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		http.Error(w, "invalid due date", http.StatusBadRequest)
		return
	}

	loan, err := h.service.ExtendLoan(r.Context(), id, dueDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *Handler) ActiveLoans(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ActiveLoans(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) OverdueLoans(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.OverdueLoans(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookID   string `json:"book_id"`
		MemberID string `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		http.Error(w, "invalid book ID", http.StatusBadRequest)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.ReserveBook(r.Context(), bookID, memberID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelReservation(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "reservation cancelled"})
}

func (h *Handler) ConvertReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	loan, err := h.service.ConvertReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

func (h *Handler) MemberReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	views, err := h.service.MemberReservations(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) BookReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	views, err := h.service.BookReservations(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) ApplySuspension(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	cancelled, err := h.service.ApplySuspension(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"cancelled_reservations": cancelled})
}

func (h *Handler) ExpireStale(w http.ResponseWriter, r *http.Request) {
	expired, err := h.service.ExpireStale(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"expired_reservations": expired})
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// optionalDate parses an empty-or-YYYY-MM-DD field. The second return is
// false when the response has already been written.
func (h *Handler) optionalDate(w http.ResponseWriter, value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return nil, false
	}
	return &t, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorw("encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAlreadyReturned),
		errors.Is(err, ErrDuplicateReservation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrBookUnavailable),
		errors.Is(err, ErrMemberIneligible),
		errors.Is(err, ErrBookAvailable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Errorw("internal error", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
