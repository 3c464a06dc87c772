package plugins

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const htmlResults = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&amp;rut=abc">The Go   Programming Language</a>
  <a class="result__snippet">Go is an open source language.</a>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  <a class="result__snippet">Discover packages.</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/third">Third</a>
</div>
</body></html>`

const liteResults = `<html><body><table>
<tr><td><a class="result-link" href="https://a.example/">Alpha</a></td></tr>
<tr><td class="result-snippet">First snippet</td></tr>
<tr><td><a class="result-link" href="https://b.example/">Beta</a></td></tr>
<tr><td class="result-snippet">Second snippet</td></tr>
</table></body></html>`

func TestWebSearch(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		r.ParseForm()
		gotQuery = r.PostForm.Get("q")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlResults))
	}))
	defer server.Close()

	web := NewWeb(server.URL, time.Second, testr.New(t))
	out, err := web.search(t.Context(), map[string]any{"query": "golang", "max_results": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "golang", gotQuery)

	res := out.(map[string]any)
	results := res["results"].([]SearchResult)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Title: "The Go Programming Language", URL: "https://go.dev/", Snippet: "Go is an open source language."}, results[0])
	assert.Equal(t, "https://pkg.go.dev/", results[1].URL)
	assert.Equal(t, 2, res["total_results"])
}

func TestWebSearchLiteLayout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(liteResults))
	}))
	defer server.Close()

	web := NewWeb(server.URL, time.Second, testr.New(t))
	out, err := web.search(t.Context(), map[string]any{"query": "x"})
	require.NoError(t, err)
	results := out.(map[string]any)["results"].([]SearchResult)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Title: "Beta", URL: "https://b.example/", Snippet: "Second snippet"}, results[1])
}

func TestWebSearchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	web := NewWeb(server.URL, time.Second, testr.New(t))
	_, err := web.search(t.Context(), map[string]any{"query": "x"})
	assert.ErrorContains(t, err, "429")

	_, err = web.search(t.Context(), map[string]any{})
	assert.Error(t, err)
}

func TestFetchURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><head><title>Hello Page</title><style>body{}</style></head>
<body><script>var x = 1;</script>
<h1>Heading</h1>
<p>Some   body text.</p></body></html>`))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(strings.Repeat("a", 50)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	web := NewWeb("", time.Second, testr.New(t))

	out, err := web.fetch(t.Context(), map[string]any{"url": server.URL + "/page"})
	require.NoError(t, err)
	page := out.(map[string]any)
	assert.Equal(t, "Hello Page", page["title"])
	assert.Equal(t, "Heading Some body text.", page["content"])
	assert.Equal(t, false, page["truncated"])

	out, err = web.fetch(t.Context(), map[string]any{"url": server.URL + "/plain", "max_chars": 10})
	require.NoError(t, err)
	page = out.(map[string]any)
	assert.Equal(t, strings.Repeat("a", 10), page["content"])
	assert.Equal(t, true, page["truncated"])

	_, err = web.fetch(t.Context(), map[string]any{"url": server.URL + "/missing"})
	assert.ErrorContains(t, err, "404")

	_, err = web.fetch(t.Context(), map[string]any{"url": "file:///etc/passwd"})
	assert.Error(t, err)
}

func TestResolveRedirect(t *testing.T) {
	assert.Equal(t, "https://go.dev/", resolveRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F"))
	assert.Equal(t, "https://example.com/x", resolveRedirect("//example.com/x"))
	assert.Equal(t, "https://plain.example/", resolveRedirect("https://plain.example/"))
}
