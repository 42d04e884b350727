// Package docstoretest provides an in-memory document store for tests.
package docstoretest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Server is an httptest server that behaves like the hosted document store:
// it checks the master key, serves the record inside an envelope, emits an
// ETag per version and honours If-Match on PUT.
type Server struct {
	srv       *httptest.Server
	binID     string
	masterKey string

	mu        sync.Mutex
	record    json.RawMessage
	version   int64
	failures  map[string][]int
	beforeGet func()
	beforePut func()
	noETags   bool
	gets      int
	puts      int
}

// New starts a Server holding an empty object and stops it when t finishes.
func New(t testing.TB, binID, masterKey string) *Server {
	t.Helper()
	s := &Server{
		binID:     binID,
		masterKey: masterKey,
		record:    json.RawMessage(`{}`),
		version:   1,
		failures:  make(map[string][]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

// BaseURL is the value to pass as the client's base URL.
func (s *Server) BaseURL() string {
	return s.srv.URL + "/b"
}

// Record returns a copy of the stored record.
func (s *Server) Record() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(json.RawMessage(nil), s.record...)
}

// SetRecord replaces the stored record as another writer would.
func (s *Server) SetRecord(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = data
	s.version++
	return nil
}

// FailNext makes the next request with the given method answer status.
// Calls queue up in order.
func (s *Server) FailNext(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], status)
}

// BeforePut registers fn to run at the start of every PUT, before the
// If-Match check. It is used to interleave a competing writer.
func (s *Server) BeforePut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforePut = fn
}

// BeforeGet registers fn to run at the start of every GET.
func (s *Server) BeforeGet(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeGet = fn
}

// DisableETags makes the server behave like the hosted store, which sends
// no ETag and ignores If-Match.
func (s *Server) DisableETags() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noETags = true
}

// Requests reports how many GET and PUT requests reached the store.
func (s *Server) Requests() (gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

func (s *Server) etag() string {
	return fmt.Sprintf(`"v%d"`, s.version)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/b/"+s.binID {
		writeMessage(w, http.StatusNotFound, "Bin not found")
		return
	}
	if r.Header.Get("X-Master-Key") != s.masterKey {
		writeMessage(w, http.StatusUnauthorized, "Invalid X-Master-Key provided")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		hook := s.beforeGet
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		s.handleGet(w)
	case http.MethodPut:
		s.handlePut(w, r)
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) popFailure(method string) int {
	queue := s.failures[method]
	if len(queue) == 0 {
		return 0
	}
	s.failures[method] = queue[1:]
	return queue[0]
}

func (s *Server) handleGet(w http.ResponseWriter) {
	s.mu.Lock()
	s.gets++
	if status := s.popFailure(http.MethodGet); status != 0 {
		s.mu.Unlock()
		writeMessage(w, status, http.StatusText(status))
		return
	}
	record := append(json.RawMessage(nil), s.record...)
	etag := s.etag()
	noETags := s.noETags
	s.mu.Unlock()

	if !noETags {
		w.Header().Set("ETag", etag)
	}
	writeEnvelope(w, record, map[string]any{"id": s.binID, "private": true})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		writeMessage(w, http.StatusBadRequest, "Bin cannot be blank or invalid JSON")
		return
	}

	s.mu.Lock()
	hook := s.beforePut
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	s.puts++
	if status := s.popFailure(http.MethodPut); status != 0 {
		s.mu.Unlock()
		writeMessage(w, status, http.StatusText(status))
		return
	}
	if match := r.Header.Get("If-Match"); !s.noETags && match != "" && match != s.etag() {
		s.mu.Unlock()
		writeMessage(w, http.StatusPreconditionFailed, "document version mismatch")
		return
	}
	s.record = body
	s.version++
	etag := s.etag()
	noETags := s.noETags
	s.mu.Unlock()

	if !noETags {
		w.Header().Set("ETag", etag)
	}
	writeEnvelope(w, body, map[string]any{"parentId": s.binID, "private": true})
}

func writeEnvelope(w http.ResponseWriter, record json.RawMessage, metadata map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"record":   record,
		"metadata": metadata,
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
