// Package testutil provides testing utilities for the Hacker News client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix of the mock API, mirroring the real /v0/.
const APIPrefix = "/v0/"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockItem is the JSON shape served for item/{id}.json.
type MockItem struct {
	ID          int    `json:"id"`
	Type        string `json:"type,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	By          string `json:"by,omitempty"`
	Time        int64  `json:"time,omitempty"`
	Score       int    `json:"score,omitempty"`
	Descendants int    `json:"descendants,omitempty"`
}

// MockHN is a configurable mock Hacker News API for testing.
//
// By default it serves the configured id list and items. Unknown items
// get a 200 with a literal null body, as the real API does.
type MockHN struct {
	server   *httptest.Server
	mu       sync.RWMutex
	ids      []int
	items    map[int]MockItem
	handlers map[string]http.HandlerFunc

	requests      int
	pathRequests  map[string]int
	lastUserAgent string
}

// NewMockHN creates a new mock API server.
func NewMockHN() *MockHN {
	mock := &MockHN{
		items:        make(map[int]MockItem),
		handlers:     make(map[string]http.HandlerFunc),
		pathRequests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, APIPrefix)

		mock.mu.Lock()
		mock.requests++
		mock.pathRequests[path]++
		mock.lastUserAgent = r.UserAgent()
		handler, exists := mock.handlers[path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r, path)
	}))

	return mock
}

// URL returns the API base URL, suitable for client.Config.BaseURL.
func (m *MockHN) URL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockHN) Close() {
	m.server.Close()
}

// SetBestStories sets the id list served by beststories.json.
func (m *MockHN) SetBestStories(ids ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append([]int(nil), ids...)
}

// AddItem adds or replaces an item.
func (m *MockHN) AddItem(item MockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.Type == "" {
		item.Type = "story"
	}
	m.items[item.ID] = item
}

// AddStory adds a story with a title, author and score derived from id.
func (m *MockHN) AddStory(id, score int) {
	m.AddItem(MockItem{
		ID:          id,
		Title:       fmt.Sprintf("Story %d", id),
		URL:         fmt.Sprintf("https://example.com/%d", id),
		By:          fmt.Sprintf("user%d", id),
		Time:        1_700_000_000 + int64(id),
		Score:       score,
		Descendants: id % 50,
	})
}

// SetHandler sets a custom handler for a path relative to the API prefix,
// e.g. "beststories.json" or "item/1.json".
func (m *MockHN) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ClearHandler removes a custom handler.
func (m *MockHN) ClearHandler(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a fixed response for a path.
func (m *MockHN) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// ItemPath returns the path of an item relative to the API prefix.
func ItemPath(id int) string {
	return "item/" + strconv.Itoa(id) + ".json"
}

// BestStoriesPath is the id list path relative to the API prefix.
const BestStoriesPath = "beststories.json"

// RequestCount returns the number of requests made to the server.
func (m *MockHN) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests
}

// PathCount returns the number of requests made to one path.
func (m *MockHN) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathRequests[path]
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *MockHN) LastUserAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUserAgent
}

// Reset clears all tracking counters.
func (m *MockHN) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = 0
	m.pathRequests = make(map[string]int)
	m.lastUserAgent = ""
}

func (m *MockHN) defaultHandler(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if path == BestStoriesPath {
		m.mu.RLock()
		ids := m.ids
		m.mu.RUnlock()
		if ids == nil {
			ids = []int{}
		}
		json.NewEncoder(w).Encode(ids)
		return
	}

	if rest, ok := strings.CutPrefix(path, "item/"); ok {
		id, err := strconv.Atoi(strings.TrimSuffix(rest, ".json"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Invalid path"}`))
			return
		}
		m.mu.RLock()
		item, exists := m.items[id]
		m.mu.RUnlock()
		if !exists {
			w.Write([]byte("null"))
			return
		}
		json.NewEncoder(w).Encode(item)
		return
	}

	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"Not found"}`))
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewMalformedResponse creates a 200 response whose body is not valid JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"id": 1, "title": `,
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
	}
}

// NewFlakyHandler fails the first n requests with status and then
// delegates to next.
func NewFlakyHandler(n, status int, next http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	failures := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := failures < n
		if fail {
			failures++
		}
		mu.Unlock()

		if fail {
			w.WriteHeader(status)
			return
		}
		next(w, r)
	}
}

// ItemHandler returns a handler serving item as JSON.
func ItemHandler(item MockItem) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(item)
	}
}
