// Package payloadtest provides an in-process fake of the Payload transactions
// API for tests.
package payloadtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	APIKey       = "test_secret_key_1234"
	ProcessingID = "acct_test_processing"

	ApprovalCard    = "4242424242424242"
	DeclinedCard    = "4000000000000002"
	InvalidCardCard = "4000000000000000"
)

// Operations recorded by Calls and LastBody.
const (
	OpCreatePayment = "create_payment"
	OpCreateRefund  = "create_refund"
	OpGet           = "get"
	OpUpdate        = "update"
)

// Server is a fake Payload API that keeps transactions in memory.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	txns     map[string]map[string]any
	calls    map[string]int
	bodies   map[string][]map[string]any
	statuses map[string]int
	replies  map[string]string
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		txns:     make(map[string]map[string]any),
		calls:    make(map[string]int),
		bodies:   make(map[string][]map[string]any),
		statuses: make(map[string]int),
		replies:  make(map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddTransaction stores a transaction. It must carry an "id".
func (s *Server) AddTransaction(txn map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[txn["id"].(string)] = txn
}

// Transaction returns a stored transaction.
func (s *Server) Transaction(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns[id]
}

// Calls returns how many times an operation was invoked.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// LastBody returns the last JSON body received for an operation.
func (s *Server) LastBody(op string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	bodies := s.bodies[op]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

// SetReply forces a status and raw body for an operation.
func (s *Server) SetReply(op string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[op] = status
	s.replies[op] = body
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/transactions"), "/")
	var body map[string]any
	if r.Method != http.MethodGet {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	var op string
	switch {
	case r.Method == http.MethodPost && id == "" && body["type"] == "refund":
		op = OpCreateRefund
	case r.Method == http.MethodPost && id == "":
		op = OpCreatePayment
	case r.Method == http.MethodGet && id != "":
		op = OpGet
	case r.Method == http.MethodPut && id != "":
		op = OpUpdate
	default:
		writeError(w, http.StatusNotFound, "NotFound", "No such route", nil)
		return
	}
	s.calls[op]++
	s.bodies[op] = append(s.bodies[op], body)

	if user, _, ok := r.BasicAuth(); !ok || user != APIKey {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid API key", nil)
		return
	}
	if status, ok := s.statuses[op]; ok {
		w.WriteHeader(status)
		w.Write([]byte(s.replies[op]))
		return
	}

	switch op {
	case OpCreatePayment:
		s.createPayment(w, body)
	case OpCreateRefund:
		s.createRefund(w, body)
	case OpGet:
		txn, ok := s.txns[id]
		if !ok {
			writeError(w, http.StatusNotFound, "NotFound", "Transaction not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, txn)
	case OpUpdate:
		txn, ok := s.txns[id]
		if !ok {
			writeError(w, http.StatusNotFound, "NotFound", "Transaction not found", nil)
			return
		}
		if body["status"] == "voided" {
			txn["status"] = "voided"
			txn["status_message"] = "Transaction voided."
		}
		if desc, ok := body["description"]; ok {
			txn["description"] = desc
		}
		writeJSON(w, http.StatusOK, txn)
	}
}

func (s *Server) createPayment(w http.ResponseWriter, body map[string]any) {
	pm, _ := body["payment_method"].(map[string]any)
	card, _ := pm["card"].(map[string]any)
	number, _ := card["card_number"].(string)

	switch number {
	case DeclinedCard:
		txn := s.store(map[string]any{
			"type": "payment", "status": "declined", "status_code": "card_declined",
			"status_message": "Card Declined", "amount": body["amount"],
		})
		writeError(w, http.StatusPaymentRequired, "TransactionDeclined", "Card Declined", txn)
	case ApprovalCard:
		txn := s.store(map[string]any{
			"type": "payment", "status": "processed", "status_code": "approved",
			"status_message": "Transaction approved.", "funding_status": "pending",
			"amount": body["amount"], "description": body["description"],
		})
		writeJSON(w, http.StatusOK, txn)
	default:
		writeError(w, http.StatusBadRequest, "InvalidAttributes", "Invalid attributes", map[string]any{
			"payment_method": map[string]any{"card": map[string]any{"card_number": "Invalid card number"}},
		})
	}
}

func (s *Server) createRefund(w http.ResponseWriter, body map[string]any) {
	txn := s.store(map[string]any{
		"type": "refund", "status": "processed", "status_code": "approved",
		"status_message": "Refund processed.", "amount": body["amount"], "ledger": body["ledger"],
	})
	writeJSON(w, http.StatusOK, txn)
}

// store assumes s.mu is held.
func (s *Server) store(txn map[string]any) map[string]any {
	s.nextID++
	txn["id"] = fmt.Sprintf("txn_%06d", s.nextID)
	s.txns[txn["id"].(string)] = txn
	return txn
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errorType, description string, details any) {
	body := map[string]any{
		"object":            "error",
		"error_type":        errorType,
		"error_description": description,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
