package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"lufashion/internal/core"
)

const (
	statsCacheKey   = "stats"
	overdueCacheKey = "overdue"
	dueSoonCacheKey = "due_soon"
)

type createCustomerRequest struct {
	Name          string `json:"name"`
	OpeningAmount string `json:"opening_amount"`
	Phone         string `json:"phone"`
	DueDate       string `json:"due_date"`
}

type updateCustomerRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	DueDate *string `json:"due_date"`
}

type recordTransactionRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type editTransactionRequest struct {
	Amount      *string `json:"amount"`
	Description *string `json:"description"`
}

type mutationResponse struct {
	CustomerID    string `json:"customer_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Persisted     bool   `json:"persisted"`
	Outcome       string `json:"outcome,omitempty"`
}

type transactionView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

type customerView struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Phone            string            `json:"phone,omitempty"`
	DueDate          string            `json:"due_date,omitempty"`
	TotalBilledCents int64             `json:"total_billed_cents"`
	PendingCents     int64             `json:"pending_cents"`
	SettledCents     int64             `json:"settled_cents"`
	TotalBilled      string            `json:"total_billed"`
	Pending          string            `json:"pending"`
	Settled          string            `json:"settled"`
	Status           string            `json:"status"`
	DaysOverdue      int               `json:"days_overdue,omitempty"`
	CreatedAt        string            `json:"created_at"`
	Transactions     []transactionView `json:"transactions,omitempty"`
}

type statsView struct {
	Customers         int    `json:"customers"`
	TotalBilledCents  int64  `json:"total_billed_cents"`
	TotalPendingCents int64  `json:"total_pending_cents"`
	TotalSettledCents int64  `json:"total_settled_cents"`
	TotalBilled       string `json:"total_billed"`
	TotalPending      string `json:"total_pending"`
	TotalSettled      string `json:"total_settled"`
}

func (s *Server) customerView(c *core.Customer, withTransactions bool) customerView {
	today := core.Today()
	view := customerView{
		ID:               c.ID,
		Name:             c.Name,
		Phone:            c.Phone,
		DueDate:          formatDate(c.DueDate),
		TotalBilledCents: c.TotalBilled.Cents,
		PendingCents:     c.Pending.Cents,
		SettledCents:     c.Settled.Cents,
		TotalBilled:      c.TotalBilled.FormatBRL(),
		Pending:          c.Pending.FormatBRL(),
		Settled:          c.Settled.FormatBRL(),
		Status:           string(s.classifier.Classify(c, today)),
		DaysOverdue:      s.classifier.DaysOverdue(c, today),
		CreatedAt:        c.CreatedAt.Format(time.RFC3339),
	}
	if withTransactions {
		for _, tx := range c.TransactionsNewestFirst() {
			view.Transactions = append(view.Transactions, transactionView{
				ID:          tx.ID,
				Kind:        string(tx.Kind),
				AmountCents: tx.Amount.Cents,
				Amount:      tx.Amount.FormatBRL(),
				Description: tx.Description,
				OccurredAt:  tx.OccurredAt.Format(time.RFC3339),
			})
		}
	}
	return view
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseAmount(s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opening, err := parseAmount(req.OpeningAmount)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid due date, expected YYYY-MM-DD")
		return
	}

	res, err := s.ledger.CreateCustomer(r.Context(), sanitizeInput(req.Name), opening, sanitizeInput(req.Phone), dueDate)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateViews()
	s.logger.LogTransactionRecorded(r.Context(), res.CustomerID, res.TransactionID,
		string(core.KindCharge), opening.Cents, res.Persisted)
	respondJSON(w, http.StatusCreated, mutationBody(res))
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers := s.ledger.ListCustomers(r.URL.Query().Get("name"))
	views := make([]customerView, 0, len(customers))
	for _, c := range customers {
		views = append(views, s.customerView(c, false))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.GetCustomerByID(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.customerView(c, true))
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req updateCustomerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Phone == nil && req.DueDate == nil {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	id := r.PathValue("id")
	persisted := true

	if req.Name != nil {
		res, err := s.ledger.RenameCustomer(r.Context(), id, sanitizeInput(*req.Name))
		if err != nil {
			respondDomainError(w, err)
			return
		}
		persisted = persisted && res.Persisted
	}
	if req.Phone != nil {
		res, err := s.ledger.SetPhone(r.Context(), id, sanitizeInput(*req.Phone))
		if err != nil {
			respondDomainError(w, err)
			return
		}
		persisted = persisted && res.Persisted
	}
	if req.DueDate != nil {
		due, err := parseDate(*req.DueDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid due date, expected YYYY-MM-DD")
			return
		}
		res, err := s.ledger.SetDueDate(r.Context(), id, due)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		persisted = persisted && res.Persisted
	}

	s.invalidateViews()
	respondJSON(w, http.StatusOK, mutationResponse{CustomerID: id, Persisted: persisted})
}

func (s *Server) handleRemoveCustomer(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.RemoveCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateViews()
	respondJSON(w, http.StatusOK, mutationBody(res))
}

func (s *Server) handleRecordCharge(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	res, err := s.ledger.RecordCharge(r.Context(), r.PathValue("id"), amount, sanitizeInput(req.Description))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateViews()
	s.logger.LogTransactionRecorded(r.Context(), res.CustomerID, res.TransactionID,
		string(core.KindCharge), amount.Cents, res.Persisted)
	respondJSON(w, http.StatusCreated, mutationBody(res))
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	customerID := r.PathValue("id")
	res, err := s.ledger.RecordPayment(r.Context(), customerID, amount, sanitizeInput(req.Description))
	if errors.Is(err, core.ErrNothingPending) {
		// Fully settled balance. Nothing was recorded, but this is an
		// outcome the client shows, not an error.
		respondJSON(w, http.StatusOK, mutationResponse{
			CustomerID: customerID,
			Persisted:  true,
			Outcome:    "nothing_pending",
		})
		return
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateViews()
	s.logger.LogTransactionRecorded(r.Context(), res.CustomerID, res.TransactionID,
		string(core.KindPayment), amount.Cents, res.Persisted)
	respondJSON(w, http.StatusCreated, mutationBody(res))
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	var req editTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil && req.Description == nil {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	customerID := r.PathValue("id")
	txID := r.PathValue("txID")

	var newAmount core.Money
	if req.Amount != nil {
		amount, err := parseAmount(*req.Amount)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		newAmount = amount
	} else {
		// Description-only edit keeps the recorded amount.
		c, err := s.ledger.GetCustomerByID(customerID)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		idx := c.FindTransaction(txID)
		if idx < 0 {
			respondDomainError(w, core.ErrTransactionNotFound)
			return
		}
		newAmount = c.Transactions[idx].Amount
	}

	res, err := s.ledger.EditTransaction(r.Context(), customerID, txID, newAmount, req.Description)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateViews()
	respondJSON(w, http.StatusOK, mutationBody(res))
}

func (s *Server) handleRemoveTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.RemoveTransaction(r.Context(), r.PathValue("id"), r.PathValue("txID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateViews()
	respondJSON(w, http.StatusOK, mutationBody(res))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if view, ok := s.statsCache.Get(statsCacheKey); ok {
		respondJSON(w, http.StatusOK, view)
		return
	}

	stats := s.ledger.Stats()
	view := statsView{
		Customers:         len(s.ledger.ListCustomers("")),
		TotalBilledCents:  stats.TotalBilled.Cents,
		TotalPendingCents: stats.TotalPending.Cents,
		TotalSettledCents: stats.TotalSettled.Cents,
		TotalBilled:       stats.TotalBilled.FormatBRL(),
		TotalPending:      stats.TotalPending.FormatBRL(),
		TotalSettled:      stats.TotalSettled.FormatBRL(),
	}
	s.statsCache.Set(statsCacheKey, view)
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request) {
	s.respondCustomerList(w, overdueCacheKey, s.ledger.ListOverdue)
}

func (s *Server) handleDueSoon(w http.ResponseWriter, r *http.Request) {
	s.respondCustomerList(w, dueSoonCacheKey, s.ledger.ListDueSoon)
}

func (s *Server) respondCustomerList(w http.ResponseWriter, cacheKey string, list func() []*core.Customer) {
	if views, ok := s.listCache.Get(cacheKey); ok {
		respondJSON(w, http.StatusOK, views)
		return
	}

	customers := list()
	views := make([]customerView, 0, len(customers))
	for _, c := range customers {
		views = append(views, s.customerView(c, false))
	}
	s.listCache.Set(cacheKey, views)
	respondJSON(w, http.StatusOK, views)
}
