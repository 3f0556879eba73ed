package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage_AllEmbedded(t *testing.T) {
	for _, name := range []string{PageLogin, PageBadData, PageFailed, PageNoAccount, PageFinished, PageNotFound} {
		t.Run(name, func(t *testing.T) {
			b, err := Page(name)
			require.NoError(t, err)
			assert.Contains(t, string(b), "<html")
		})
	}
}

func TestPage_LoginFormPostsAPIKey(t *testing.T) {
	b, err := Page(PageLogin)
	require.NoError(t, err)
	assert.Contains(t, string(b), `method="post"`)
	assert.Contains(t, string(b), `name="apikey"`)
}

func TestPage_Missing(t *testing.T) {
	_, err := Page("nope")
	assert.Error(t, err)

	_, err = Handler("nope", http.StatusOK)
	assert.Error(t, err)
}

func TestHandler_ServesHTML(t *testing.T) {
	h, err := Handler(PageNotFound, http.StatusNotFound)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Page not found")
}
