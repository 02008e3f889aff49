package enrichment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

var email = schemas.Artifact{Type: schemas.ArtifactEmail, Value: "hacker@dark.net"}

func TestEnrichableAndPriority(t *testing.T) {
	assert.True(t, Enrichable(schemas.ArtifactEmail))
	assert.True(t, Enrichable(schemas.ArtifactSHA256))
	assert.False(t, Enrichable(schemas.ArtifactOnion))
	assert.False(t, Enrichable(schemas.ArtifactURL))

	assert.Less(t, Priority(schemas.ArtifactEmail), Priority(schemas.ArtifactBitcoin))
	assert.Less(t, Priority(schemas.ArtifactMD5), Priority(schemas.ArtifactOnion))
}

func TestQueries(t *testing.T) {
	q, ok := githubQuery(email)
	require.True(t, ok)
	assert.Equal(t, `"hacker@dark.net"`, q)

	q, ok = githubQuery(schemas.Artifact{Type: schemas.ArtifactUsername, Value: "d4rk"})
	require.True(t, ok)
	assert.Equal(t, `"d4rk" OR author:d4rk`, q)

	_, ok = githubQuery(schemas.Artifact{Type: schemas.ArtifactOnion, Value: "x.onion"})
	assert.False(t, ok)

	assert.Equal(t, `"hacker@dark.net" data breach leak`, braveQuery(email))
	assert.Equal(t, `"1abc" ransomware bitcoin`, braveQuery(schemas.Artifact{Type: schemas.ArtifactBitcoin, Value: "1abc"}))
	assert.Equal(t, `"x.onion"`, braveQuery(schemas.Artifact{Type: schemas.ArtifactOnion, Value: "x.onion"}))
}

func TestGitHubLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/code", r.URL.Path)
		assert.Equal(t, `"hacker@dark.net"`, r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"total_count":3,"items":[
			{"name":"dump.txt","path":"leaks/dump.txt","html_url":"https://github.com/a/b/blob/main/leaks/dump.txt","repository":{"full_name":"a/b","description":"combo lists"}},
			{"name":"c.txt","path":"c.txt","html_url":"https://github.com/c/d/blob/main/c.txt","repository":{"full_name":"c/d"}},
			{"name":"e.txt","path":"e.txt","html_url":"https://github.com/e/f/blob/main/e.txt","repository":{"full_name":"e/f"}}]}`)
	}))
	defer server.Close()

	g, err := NewGitHub(GitHubConfig{Token: "tok", MaxResults: 2, RequestsPerMinute: 6000, BaseURL: server.URL}, server.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "github", g.Name())

	findings, err := g.Lookup(context.Background(), email)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "a/b/dump.txt", findings[0].Title)
	assert.Equal(t, "https://github.com/a/b/blob/main/leaks/dump.txt", findings[0].URL)
	assert.Equal(t, "Found in leaks/dump.txt (combo lists)", findings[0].Snippet)
	assert.Equal(t, "github_code", findings[0].Type)
}

func TestGitHubSkipsUnsupportedTypes(t *testing.T) {
	g, err := NewGitHub(GitHubConfig{BaseURL: "http://127.0.0.1:1"}, nil, nil)
	require.NoError(t, err)
	findings, err := g.Lookup(context.Background(), schemas.Artifact{Type: schemas.ArtifactOnion, Value: "x.onion"})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestGitHubErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Validation Failed"}`)
	}))
	defer server.Close()

	g, err := NewGitHub(GitHubConfig{RequestsPerMinute: 6000, BaseURL: server.URL}, server.Client(), nil)
	require.NoError(t, err)
	_, err = g.Lookup(context.Background(), email)
	assert.Error(t, err)
}

func TestBraveLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, `"hacker@dark.net" data breach leak`, r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		_, _ = io.WriteString(w, `{"web":{"results":[{"title":"Breach index","url":"https://breach.example/x","description":"appears in 2 breaches"}]}}`)
	}))
	defer server.Close()

	b, err := NewBrave(BraveConfig{APIKey: "key", RequestsPerSecond: 100, Endpoint: server.URL}, server.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "brave", b.Name())

	findings, err := b.Lookup(context.Background(), email)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, schemas.EnrichmentFinding{
		Type: "web_search", Title: "Breach index", URL: "https://breach.example/x",
		Snippet: "appears in 2 breaches", Relevance: 0.7,
	}, findings[0])
}

func TestBraveErrors(t *testing.T) {
	_, err := NewBrave(BraveConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	b, err := NewBrave(BraveConfig{APIKey: "key", RequestsPerSecond: 100, Endpoint: server.URL}, server.Client(), nil)
	require.NoError(t, err)
	_, err = b.Lookup(context.Background(), email)
	assert.ErrorContains(t, err, "429")
}
