// Package testutil provides fake mirrors and a fake upload service for tests.
package testutil

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// SHA512 returns the lowercase hex SHA-512 digest of data.
func SHA512(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Mirror serves content at /<algorithm>/<digest> and counts requests.
type Mirror struct {
	*httptest.Server

	mu       sync.Mutex
	blobs    map[string][]byte
	requests int
	auth     []string
	queries  []string
}

// NewMirror starts a mirror that is closed when the test ends.
func NewMirror(tb testing.TB) *Mirror {
	tb.Helper()
	m := &Mirror{blobs: make(map[string][]byte)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	tb.Cleanup(m.Close)
	return m
}

// Add serves data under its SHA-512 digest and returns the digest.
func (m *Mirror) Add(data []byte) string {
	digest := SHA512(data)
	m.AddAs("sha512", digest, data)
	return digest
}

// AddAs serves data under an arbitrary algorithm and digest.
func (m *Mirror) AddAs(algorithm, digest string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[algorithm+"/"+digest] = data
}

// Requests returns the number of requests served.
func (m *Mirror) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Authorization returns the Authorization header of every request.
func (m *Mirror) Authorization() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.auth...)
}

// Queries returns the raw query string of every request.
func (m *Mirror) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func (m *Mirror) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	m.auth = append(m.auth, r.Header.Get("Authorization"))
	m.queries = append(m.queries, r.URL.RawQuery)
	data, ok := m.blobs[strings.TrimPrefix(r.URL.Path, "/")]
	m.mu.Unlock()

	if r.Method != http.MethodGet || !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// UploadFile mirrors the per-file body of an upload request.
type UploadFile struct {
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	Algorithm  string `json:"algorithm"`
	Visibility string `json:"visibility"`
}

// UploadBatch mirrors the body of an upload request.
type UploadBatch struct {
	Message string                `json:"message"`
	Files   map[string]UploadFile `json:"files"`
}

// UploadService emulates the artifact service's upload endpoints.
//
// POST /upload grants a signed URL at /put/<filename> for every file whose
// digest it does not hold. GET /upload/complete/<algorithm>/<digest> answers
// 409 for the configured number of conflicts and 200 afterwards.
type UploadService struct {
	*httptest.Server

	mu         sync.Mutex
	calls      int
	have       map[string]bool
	failPut    map[string]bool
	received   map[string][]byte
	putAuth    []string
	batches    []UploadBatch
	completes  map[string]int
	conflicts  int
	retryAfter string
	rejectWith int
}

// NewUploadService starts a service that is closed when the test ends.
func NewUploadService(tb testing.TB) *UploadService {
	tb.Helper()
	s := &UploadService{
		have:      make(map[string]bool),
		failPut:   make(map[string]bool),
		received:  make(map[string][]byte),
		completes: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Have marks digest as already stored, so it is not granted a signed URL.
func (s *UploadService) Have(digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.have[digest] = true
}

// FailPut makes the signed URL for filename answer 500.
func (s *UploadService) FailPut(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut[filename] = true
}

// Conflicts makes each completion answer 409 n times before succeeding,
// sending retryAfter in X-Retry-After when it is not empty.
func (s *UploadService) Conflicts(n int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
	s.retryAfter = retryAfter
}

// RejectBatches makes POST /upload answer with status and a service error body.
func (s *UploadService) RejectBatches(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectWith = status
}

// Calls returns the number of requests of any kind.
func (s *UploadService) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Received returns the bytes PUT for filename.
func (s *UploadService) Received(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.received[filename]
	return data, ok
}

// PutAuthorization returns the Authorization header of every PUT.
func (s *UploadService) PutAuthorization() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.putAuth...)
}

// Batches returns every decoded upload request.
func (s *UploadService) Batches() []UploadBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UploadBatch(nil), s.batches...)
}

// Completions returns how many completion requests arrived for digest.
func (s *UploadService) Completions(digest string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes[digest]
}

func (s *UploadService) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload":
		s.negotiate(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/put/"):
		s.put(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/upload/complete/"):
		s.complete(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *UploadService) negotiate(w http.ResponseWriter, r *http.Request) {
	var batch UploadBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)

	if s.rejectWith != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.rejectWith)
		_, _ = io.WriteString(w, `{"error": {"name": "Forbidden", "description": "no upload permission"}}`)
		return
	}

	files := make(map[string]map[string]string, len(batch.Files))
	for name, f := range batch.Files {
		grant := map[string]string{}
		if !s.have[f.Digest] {
			grant["put_url"] = s.URL + "/put/" + name
		}
		files[name] = grant
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"files": files}})
}

func (s *UploadService) put(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/put/")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.putAuth = append(s.putAuth, r.Header.Get("Authorization"))
	if s.failPut[name] {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	s.received[name] = data
	w.WriteHeader(http.StatusOK)
}

func (s *UploadService) complete(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/upload/complete/"), "/")
	digest := parts[len(parts)-1]

	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes[digest]++
	if s.completes[digest] <= s.conflicts {
		if s.retryAfter != "" {
			w.Header().Set("X-Retry-After", s.retryAfter)
		}
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}
