package perplexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearline/vehicle-cli/internal/resilience"
)

func testServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)
		require.Len(t, req.Messages, 1)

		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}))
}

func TestSearch_MapsSearchResults(t *testing.T) {
	srv := testServer(t, http.StatusOK, ChatCompletionResponse{
		ID: "resp-1",
		Choices: []Choice{
			{Message: Message{Role: "assistant", Content: "The 2018 Civic weighs 2,875 lbs."}},
		},
		SearchResults: []SearchResult{
			{Title: "Civic Specs", URL: "https://www.edmunds.com/civic", Snippet: "Curb weight: 2,875 lbs"},
			{Title: "Owner forum", URL: "https://forum.example.com/t/1"},
			{Title: "No URL", URL: ""},
		},
	})
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	hits, err := c.Search(context.Background(), "curb weight 2018 honda civic")
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "https://www.edmunds.com/civic", hits[0].URL)
	assert.Equal(t, "Curb weight: 2,875 lbs", hits[0].Text)
	// Missing snippet falls back to the synthesized answer text.
	assert.Equal(t, "The 2018 Civic weighs 2,875 lbs.", hits[1].Text)
}

func TestSearch_NoResults(t *testing.T) {
	srv := testServer(t, http.StatusOK, ChatCompletionResponse{ID: "resp-2"})
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	hits, err := c.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_TransientStatus(t *testing.T) {
	srv := testServer(t, http.StatusServiceUnavailable, nil)
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_PermanentStatus(t *testing.T) {
	srv := testServer(t, http.StatusUnauthorized, nil)
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestWithModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithModel("sonar"))
	_, err := c.Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "sonar", gotModel)
}
