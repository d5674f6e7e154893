// Package testutil holds fakes shared by package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPDoer implements github.HTTPDoer for testing.
// Responses are keyed by method and URL and can be served any number of times.
type MockHTTPDoer struct {
	responses map[string]mockResponse
	errors    map[string]error
	calls     []HTTPCall
	mu        sync.RWMutex
}

type mockResponse struct {
	body   []byte
	status int
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		responses: make(map[string]mockResponse),
		errors:    make(map[string]error),
	}
}

// Do records the request and returns the configured response, or a 404.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.calls = append(m.calls, HTTPCall{
		Header: req.Header.Clone(),
		Method: req.Method,
		URL:    req.URL.String(),
		Body:   body,
	})

	key := m.makeKey(req.Method, req.URL.String())
	if err, ok := m.errors[key]; ok {
		return nil, err
	}
	if r, ok := m.responses[key]; ok {
		return &http.Response{
			StatusCode: r.status,
			Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
			Body:       io.NopCloser(bytes.NewReader(r.body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		Body:       io.NopCloser(strings.NewReader(`{"message":"not found"}`)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// SetResponse configures a response for a specific method and URL. Body is JSON encoded.
func (m *MockHTTPDoer) SetResponse(method, url string, statusCode int, body any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("failed to marshal response body: %v", err))
		}
	}
	m.responses[m.makeKey(method, url)] = mockResponse{status: statusCode, body: bodyBytes}
}

// SetError configures an error for a specific method and URL.
func (m *MockHTTPDoer) SetError(method, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[m.makeKey(method, url)] = err
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallsTo returns the recorded calls matching method and URL.
func (m *MockHTTPDoer) CallsTo(method, url string) []HTTPCall {
	var out []HTTPCall
	for _, c := range m.Calls() {
		if c.Method == method && c.URL == url {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all configured responses and recorded calls.
func (m *MockHTTPDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string]mockResponse)
	m.errors = make(map[string]error)
	m.calls = nil
}

func (*MockHTTPDoer) makeKey(method, url string) string {
	return method + ":" + url
}
