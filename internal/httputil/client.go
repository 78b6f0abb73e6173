// Package httputil abstracts the HTTP client so tools that pull documents
// from a running gaze-report server can be tested against canned responses.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the client surface the fetch paths depend on. StandardClient
// wraps a real http.Client; MockHTTPClient replays queued responses.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
	// Get issues a GET to the specified URL.
	Get(url string) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps the given client, or http.DefaultClient when nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// Get issues a GET request.
func (c *StandardClient) Get(url string) (*http.Response, error) {
	return c.Client.Get(url)
}

// MockHTTPClient records requests and replays queued responses in order.
// Once the queue is drained it answers with empty 200s.
type MockHTTPClient struct {
	mu        sync.Mutex
	requests  []*http.Request
	responses []*mockResponse
	next      int
}

type mockResponse struct {
	statusCode int
	body       string
	err        error
}

// NewMockHTTPClient creates an empty mock client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response for a subsequent request.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &mockResponse{statusCode: statusCode, body: body})
	return m
}

// AddErrorResponse queues a transport-level error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &mockResponse{err: err})
	return m
}

// Do records the request and returns the next queued response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.next < len(m.responses) {
		resp := m.responses[m.next]
		m.next++
		if resp.err != nil {
			return nil, resp.err
		}
		return &http.Response{
			StatusCode: resp.statusCode,
			Body:       io.NopCloser(bytes.NewBufferString(resp.body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Get issues a GET request.
func (m *MockHTTPClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return m.Do(req)
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
