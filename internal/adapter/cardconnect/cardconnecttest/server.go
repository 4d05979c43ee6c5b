// Package cardconnecttest provides an in-process fake of the CardConnect REST
// API for tests. It honors the gateway's published UAT test cards.
package cardconnecttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// UAT credentials and test cards.
const (
	Username   = "testing"
	Password   = "testing123"
	MerchantID = "496160873888"

	ApprovalCard          = "4788250000121443"
	TimedOutCard          = "4999006200620062"
	ReferToIssuerCard     = "4387751111111020"
	DoNotHonorCard        = "4387751111111038"
	WrongExpirationCard   = "5442981111111049"
	InsufficientFundsCard = "5442981111111056"
)

type cardOutcome struct {
	respstat string
	resptext string
}

var cards = map[string]cardOutcome{
	ApprovalCard:          {"A", "Approval"},
	TimedOutCard:          {"B", "Timed out"},
	ReferToIssuerCard:     {"C", "Refer to issuer"},
	DoNotHonorCard:        {"C", "Do not honor"},
	WrongExpirationCard:   {"C", "Wrong expiration"},
	InsufficientFundsCard: {"C", "Insufficient funds"},
}

// Server is a fake CardConnect endpoint. Operations are "auth", "inquire",
// "void" and "refund".
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	nextRef   int
	calls     map[string]int
	bodies    map[string][]map[string]any
	inquiries map[string]map[string]any
	replies   map[string]map[string]any
	statuses  map[string]int
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		nextRef:   100000000000,
		calls:     make(map[string]int),
		bodies:    make(map[string][]map[string]any),
		inquiries: make(map[string]map[string]any),
		replies:   make(map[string]map[string]any),
		statuses:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL is the REST base URL to configure the adapter with.
func (s *Server) BaseURL() string {
	return s.URL + "/cardconnect/rest"
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

// SetInquiry registers the inquire reply for a retref.
func (s *Server) SetInquiry(retref string, reply map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inquiries[retref] = reply
}

// SetReply overrides the 200 reply body for "void" or "refund".
func (s *Server) SetReply(op string, reply map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[op] = reply
}

// SetStatus forces an HTTP status for an operation.
func (s *Server) SetStatus(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[op] = status
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/cardconnect/rest/")
	op := strings.SplitN(path, "/", 2)[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++

	var body map[string]any
	if r.Body != nil && r.Method != http.MethodGet {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	s.bodies[op] = append(s.bodies[op], body)

	if user, pass, ok := r.BasicAuth(); !ok || user != Username || pass != Password {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("<html><body>Unauthorized</body></html>"))
		return
	}
	if status, ok := s.statuses[op]; ok {
		w.WriteHeader(status)
		w.Write([]byte(fmt.Sprintf(`{"error":"forced %d"}`, status)))
		return
	}

	var reply map[string]any
	switch op {
	case "auth":
		reply = s.auth(body)
	case "inquire":
		parts := strings.Split(path, "/")
		if len(parts) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		reply = s.inquire(parts[1])
	case "void":
		reply = s.replyOr(op, map[string]any{"respstat": "A", "authcode": "REVERS", "resptext": "Approval", "retref": body["retref"]})
	case "refund":
		reply = s.replyOr(op, map[string]any{"respstat": "A", "resptext": "Approval", "retref": s.newRef()})
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

func (s *Server) auth(body map[string]any) map[string]any {
	account, _ := body["account"].(string)
	outcome, ok := cards[account]
	if !ok {
		outcome = cardOutcome{"C", "Invalid card"}
	}
	reply := map[string]any{
		"respstat": outcome.respstat,
		"resptext": outcome.resptext,
		"retref":   s.newRef(),
		"amount":   body["amount"],
		"merchid":  body["merchid"],
	}
	if outcome.respstat == "A" {
		reply["authcode"] = "PPS123"
	}
	return reply
}

func (s *Server) inquire(retref string) map[string]any {
	if reply, ok := s.inquiries[retref]; ok {
		return reply
	}
	return map[string]any{"respstat": "C", "resptext": "Txn not found", "retref": retref}
}

func (s *Server) replyOr(op string, fallback map[string]any) map[string]any {
	if reply, ok := s.replies[op]; ok {
		return reply
	}
	return fallback
}

// newRef assumes s.mu is held.
func (s *Server) newRef() string {
	s.nextRef++
	return fmt.Sprintf("%d", s.nextRef)
}
