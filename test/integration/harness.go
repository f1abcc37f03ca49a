// Package integration provides a reusable test harness for end-to-end
// integration testing of the composer service. It starts a full HTTP server
// over the catalogue fixtures and an in-memory configuration store with
// failure injection.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/composer/internal/catalogue"
	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/internal/config"
	"github.com/pitabwire/composer/internal/configstore"
	"github.com/pitabwire/composer/internal/observability"
	"github.com/pitabwire/composer/internal/transport"
	"github.com/pitabwire/composer/model"
)

// TestHarness encapsulates a fully wired composer instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Registry *catalogue.Registry
	Store    *FlakyStore
	Sessions *composer.Manager
	Metrics  *observability.Metrics

	cfg *config.Config
}

// Identity is the caller asserted through the gateway headers.
type Identity struct {
	TenantID  string
	SubjectID string
}

// Editor returns the default identity used by most scenarios.
func Editor() Identity {
	return Identity{TenantID: "acme-corp", SubjectID: "user-editor"}
}

// OtherTenant returns an identity in a different tenant.
func OtherTenant() Identity {
	return Identity{TenantID: "globex", SubjectID: "user-intruder"}
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	maxSessions int
	idleTTL     time.Duration
}

// WithSessionLimits bounds the number of sessions and their idle time.
func WithSessionLimits(maxSessions int, idleTTL time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.maxSessions = maxSessions
		c.idleTTL = idleTTL
	}
}

// NewTestHarness creates and starts a full composer test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{maxSessions: 100}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Load catalogues.
	cats, err := catalogue.LoadValidated([]string{filepath.Join(testdataDir(), "catalogues")})
	if err != nil {
		t.Fatalf("load catalogues: %v", err)
	}
	h.Registry = catalogue.NewRegistry(cats)

	// Step 2: Configuration store and metrics.
	h.Store = NewFlakyStore()
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())

	// Step 3: Session manager.
	h.Sessions = composer.NewManager(hc.maxSessions, hc.idleTTL, composer.SessionDeps{
		Backend:  h.Store,
		Metadata: h.Registry,
		Recorder: h.Metrics,
		Logger:   zap.NewNop(),
	})

	// Step 4: Router and server.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = 10 * time.Second
	h.cfg.Server.CORS.AllowedOrigins = []string{"https://editor.acme.example.com"}

	router := transport.NewRouter(transport.Dependencies{
		Config:     h.cfg,
		Logger:     zap.NewNop(),
		Sessions:   h.Sessions,
		Catalogues: h.Registry,
		Metrics:    h.Metrics,
		Readiness: observability.ReadinessChecks{
			CatalogueLoaded: func() bool { return h.Registry.Len() > 0 },
			ConfigStore:     h.Store,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// BaseURL returns the test server URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GET performs a GET request as id.
func (h *TestHarness) GET(path string, id Identity) *http.Response {
	h.t.Helper()
	return h.Do("GET", path, nil, id)
}

// POST performs a POST request with a JSON body as id.
func (h *TestHarness) POST(path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.Do("POST", path, body, id)
}

// PUT performs a PUT request with a JSON body as id.
func (h *TestHarness) PUT(path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.Do("PUT", path, body, id)
}

// PATCH performs a PATCH request with a JSON body as id.
func (h *TestHarness) PATCH(path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.Do("PATCH", path, body, id)
}

// DELETE performs a DELETE request with an optional JSON body as id.
func (h *TestHarness) DELETE(path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.Do("DELETE", path, body, id)
}

// Do performs a request with the identity headers of id. Empty identity
// fields are not sent.
func (h *TestHarness) Do(method, path string, body any, id Identity) *http.Response {
	h.t.Helper()
	return h.DoWithHeaders(method, path, body, id, nil)
}

// DoWithHeaders is Do with additional request headers.
func (h *TestHarness) DoWithHeaders(method, path string, body any, id Identity, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if id.TenantID != "" {
		req.Header.Set(transport.HeaderTenantID, id.TenantID)
	}
	if id.SubjectID != "" {
		req.Header.Set(transport.HeaderSubjectID, id.SubjectID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (%s)", body.Error.Code, code, body.Error.Message)
	}
}

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// --- configuration store with failure injection ---

// ErrInjected is returned by FlakyStore while a failure is armed.
var ErrInjected = errors.New("injected store failure")

// FlakyStore is an in-memory configuration store whose loads and saves can
// be made to fail.
type FlakyStore struct {
	*configstore.MemoryStore

	mu        sync.Mutex
	failLoads bool
	failSaves bool
	saves     int
}

// NewFlakyStore creates an empty, healthy store.
func NewFlakyStore() *FlakyStore {
	return &FlakyStore{MemoryStore: configstore.NewMemoryStore()}
}

// FailLoads arms or disarms load failures.
func (s *FlakyStore) FailLoads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLoads = fail
}

// FailSaves arms or disarms save failures.
func (s *FlakyStore) FailSaves(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = fail
}

// Saves returns the number of saves that reached the store.
func (s *FlakyStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// GetInstanceConfig fails while load failures are armed.
func (s *FlakyStore) GetInstanceConfig(ctx context.Context, instanceID string, appID int64) ([]model.PersistedRecord, error) {
	s.mu.Lock()
	fail := s.failLoads
	s.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return s.MemoryStore.GetInstanceConfig(ctx, instanceID, appID)
}

// SaveOrUpdateConfig fails while save failures are armed.
func (s *FlakyStore) SaveOrUpdateConfig(ctx context.Context, instanceID string, appID int64, payload []model.SavePayload) ([]model.PersistedRecord, error) {
	s.mu.Lock()
	fail := s.failSaves
	if !fail {
		s.saves++
	}
	s.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return s.MemoryStore.SaveOrUpdateConfig(ctx, instanceID, appID, payload)
}
