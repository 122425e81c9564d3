package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/lease"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/uow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	transport *lease.Transport
	receipts  *Receipts
	clock     clock.Clock
	log       logrus.FieldLogger
	addr      string
	timeout   time.Duration
}

func NewServer(addr string, t *lease.Transport, receipts *Receipts, clk clock.Clock, log logrus.FieldLogger) *http.Server {
	if clk == nil {
		clk = clock.System{}
	}
	srv := &Server{
		transport: t,
		receipts:  receipts,
		clock:     clk,
		log:       log,
		addr:      addr,
		timeout:   5 * time.Second,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(srv.timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// send: POST /v1/queues/{queue}/messages
		r.Post("/queues/{queue}/messages", srv.handleSend)

		// receive: POST /v1/queues/{queue}:receive
		r.Post("/queues/{queue}:receive", srv.handleReceive)

		r.Post("/receipts/{receipt}:ack", srv.handleAck)
		r.Post("/receipts/{receipt}:release", srv.handleRelease)
		r.Post("/receipts/{receipt}:renew", srv.handleRenew)
	})

	return &http.Server{
		Addr:    srv.addr,
		Handler: r,
	}
}

type sendRequest struct {
	Headers  map[string]string   `json:"headers,omitempty"`
	Body     jsoniter.RawMessage `json:"body"`
	Priority int                 `json:"priority,omitempty"`
	DelayMS  int64               `json:"delay_ms,omitempty"`
	TTLMS    int64               `json:"ttl_ms,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type receivedMessage struct {
	ID          int64               `json:"id"`
	Receipt     string              `json:"receipt"`
	Headers     map[string]string   `json:"headers,omitempty"`
	Body        jsoniter.RawMessage `json:"body"`
	Priority    int                 `json:"priority"`
	LeasedUntil *time.Time          `json:"leased_until,omitempty"`
}

// ---------- Handlers ----------

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	qname := chi.URLParam(r, "queue")
	if qname == "" {
		httpError(w, http.StatusBadRequest, "missing queue path param")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if len(req.Body) == 0 || string(req.Body) == "null" {
		httpError(w, http.StatusBadRequest, "`body` is required")
		return
	}
	if req.DelayMS < 0 || req.TTLMS < 0 {
		httpError(w, http.StatusBadRequest, "delay_ms and ttl_ms must not be negative")
		return
	}

	msg := queue.Outgoing{
		Headers:  req.Headers,
		Body:     []byte(req.Body),
		Priority: req.Priority,
		TTL:      time.Duration(req.TTLMS) * time.Millisecond,
	}
	if req.DelayMS > 0 {
		msg.VisibleAt = s.clock.Now().Add(time.Duration(req.DelayMS) * time.Millisecond)
	}

	u := uow.New()
	if err := s.transport.Send(u, qname, msg); err != nil {
		httpError(w, http.StatusBadRequest, "send failed: %v", err)
		return
	}
	if err := u.Commit(r.Context()); err != nil {
		httpError(w, http.StatusInternalServerError, "send failed: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, &okResponse{OK: true})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	qname := chi.URLParam(r, "queue")
	if qname == "" {
		httpError(w, http.StatusBadRequest, "missing queue path param")
		return
	}

	u := uow.New()
	m, err := s.transport.Receive(r.Context(), u, qname)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "receive failed: %v", err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, []receivedMessage{})
		return
	}

	key := s.receipts.add(u, qname, m.ID)
	s.log.WithFields(logrus.Fields{"queue": qname, "message_id": m.ID, "receipt": key}).Debug("receipt issued")

	writeJSON(w, http.StatusOK, []receivedMessage{{
		ID:          m.ID,
		Receipt:     key,
		Headers:     m.Headers,
		Body:        rawBody(m.Body),
		Priority:    m.Priority,
		LeasedUntil: m.LeasedUntil,
	}})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.receipts.take(chi.URLParam(r, "receipt"))
	if !ok {
		httpError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if err := rec.u.Commit(r.Context()); err != nil {
		httpError(w, http.StatusInternalServerError, "ack failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, &okResponse{OK: true})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.receipts.take(chi.URLParam(r, "receipt"))
	if !ok {
		httpError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if err := rec.u.Abort(r.Context()); err != nil {
		httpError(w, http.StatusInternalServerError, "release failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, &okResponse{OK: true})
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.receipts.touch(chi.URLParam(r, "receipt"))
	if !ok {
		httpError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if err := s.transport.RenewLease(r.Context(), rec.queue, rec.id); err != nil {
		httpError(w, http.StatusInternalServerError, "renew failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, &okResponse{OK: true})
}

// ---------- helpers ----------

// rawBody passes JSON bodies through and quotes anything else as a string.
func rawBody(b []byte) jsoniter.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
