package authserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gw2link/account"
)

type fakeAuthorizer struct {
	calls   atomic.Int32
	keys    []string
	ctxErrs []error
	mu      sync.Mutex
	outcome account.Outcome
	panics  bool

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, apiKey string) account.Outcome {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	if f.panics {
		panic("authorizer exploded")
	}
	return f.outcome
}

func (f *fakeAuthorizer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newTestServer(t *testing.T, auth Authorizer) *httptest.Server {
	t.Helper()
	s, err := New(auth)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// noRedirect returns a client that surfaces 302 responses instead of following them.
func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postForm(t *testing.T, base, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, base+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPages(t *testing.T) {
	ts := newTestServer(t, &fakeAuthorizer{})

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/", http.StatusOK, `name="apikey"`},
		{"/login", http.StatusOK, `name="apikey"`},
		{"/login_baddata", http.StatusOK, "<html"},
		{"/login_failed", http.StatusOK, "<html"},
		{"/login_noaccount", http.StatusOK, "<html"},
		{"/finished", http.StatusOK, "<html"},
		{"/does-not-exist", http.StatusNotFound, "<html"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.Contains(t, string(body), tt.contains)
			assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		})
	}
}

func TestLogin_RedirectsByOutcome(t *testing.T) {
	tests := []struct {
		outcome account.Outcome
		want    string
	}{
		{account.OutcomeFinished, PathFinished},
		{account.OutcomeFailedNoAccount, PathNoAccount},
		{account.OutcomeFailedBadData, PathBadData},
		{account.OutcomeFailedInvalidKey, PathFailed},
		{account.OutcomeFailedInvalidToken, PathFailed},
		{account.OutcomeFailedTimeout, PathFailed},
		{account.OutcomeFailed, PathFailed},
	}

	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			auth := &fakeAuthorizer{outcome: tt.outcome}
			ts := newTestServer(t, auth)

			resp := postForm(t, ts.URL, PathLogin, url.Values{"apikey": {"KEY-1"}}.Encode())
			assert.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, tt.want, resp.Header.Get("Location"))
			assert.Equal(t, int32(1), auth.calls.Load())
			assert.Equal(t, []string{"KEY-1"}, auth.seen())
		})
	}
}

func TestLogin_PostToRoot(t *testing.T) {
	auth := &fakeAuthorizer{outcome: account.OutcomeFinished}
	ts := newTestServer(t, auth)

	resp := postForm(t, ts.URL, PathRoot, "apikey=KEY-2")
	assert.Equal(t, PathFinished, resp.Header.Get("Location"))
}

func TestLogin_BadDataNeverReachesAuthorizer(t *testing.T) {
	tests := map[string]string{
		"missing field":  "other=1",
		"blank field":    "apikey=",
		"whitespace key": "apikey=%20%20%09",
		"empty body":     "",
		"bad escape":     "apikey=%zz",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			auth := &fakeAuthorizer{outcome: account.OutcomeFinished}
			ts := newTestServer(t, auth)

			resp := postForm(t, ts.URL, PathLogin, body)
			assert.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, PathBadData, resp.Header.Get("Location"))
			assert.Zero(t, auth.calls.Load())
		})
	}
}

func TestLogin_TrimsKey(t *testing.T) {
	auth := &fakeAuthorizer{outcome: account.OutcomeFinished}
	ts := newTestServer(t, auth)

	postForm(t, ts.URL, PathLogin, url.Values{"apikey": {"  KEY-3 \n"}}.Encode())
	assert.Equal(t, []string{"KEY-3"}, auth.seen())
}

func TestLogin_AuthorizerPanicIsFailure(t *testing.T) {
	auth := &fakeAuthorizer{panics: true}
	ts := newTestServer(t, auth)

	resp := postForm(t, ts.URL, PathLogin, "apikey=KEY-4")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, PathFailed, resp.Header.Get("Location"))

	// The server keeps serving after the panic.
	resp = postForm(t, ts.URL, PathLogin, "apikey=")
	assert.Equal(t, PathBadData, resp.Header.Get("Location"))
}

func TestLogin_SurvivesBrowserDisconnect(t *testing.T) {
	auth := &fakeAuthorizer{outcome: account.OutcomeFinished, delay: 200 * time.Millisecond}
	ts := newTestServer(t, auth)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+PathLogin, strings.NewReader("apikey=KEY-5"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = http.DefaultClient.Do(req)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		auth.mu.Lock()
		defer auth.mu.Unlock()
		return len(auth.ctxErrs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	auth.mu.Lock()
	defer auth.mu.Unlock()
	assert.NoError(t, auth.ctxErrs[0])
}

func TestLogin_Serialized(t *testing.T) {
	auth := &fakeAuthorizer{outcome: account.OutcomeFinished, delay: 20 * time.Millisecond}
	ts := newTestServer(t, auth)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			postForm(t, ts.URL, PathLogin, "apikey=KEY")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), auth.calls.Load())
	assert.Equal(t, int32(1), auth.maxActive.Load())
}

func TestStartShutdown(t *testing.T) {
	auth := &fakeAuthorizer{outcome: account.OutcomeFinished}
	s, err := New(auth, WithAddress("127.0.0.1", 0))
	require.NoError(t, err)

	// Shutdown before Start is harmless.
	require.NoError(t, s.Shutdown(t.Context()))
	assert.False(t, s.Running())
	assert.Equal(t, "http://127.0.0.1:0/", s.URI())

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.NotEqual(t, "http://127.0.0.1:0/", s.URI())

	err = s.Start()
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	resp, err := http.Get(s.URI() + "login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))
	assert.False(t, s.Running())

	// The server can be started again after a shutdown.
	require.NoError(t, s.Start())
	require.NoError(t, s.Shutdown(ctx))
}

func TestStart_PortInUse(t *testing.T) {
	first, err := New(&fakeAuthorizer{}, WithAddress("127.0.0.1", 0))
	require.NoError(t, err)
	require.NoError(t, first.Start())
	t.Cleanup(func() { first.Shutdown(context.Background()) })

	u, err := url.Parse(first.URI())
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	second, err := New(&fakeAuthorizer{}, WithAddress("127.0.0.1", port))
	require.NoError(t, err)

	err = second.Start()
	require.Error(t, err)
	assert.False(t, second.Running())
}

func TestDefaultURI(t *testing.T) {
	s, err := New(&fakeAuthorizer{})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:13338/", s.URI())
}
