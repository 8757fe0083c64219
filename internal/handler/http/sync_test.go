package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-card-sync/internal/config"
	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/service"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/worker"
	"github.com/MKhiriev/go-card-sync/models"
)

// newTestServer wires the full stack over a sqlite server database and a
// temporary data root, with one registered account.
func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()

	ctx := context.Background()
	log := logger.Nop()

	db, err := store.NewDatabase(ctx, config.DB{DSN: filepath.Join(t.TempDir(), "server.db")}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	cfg := &config.StructuredConfig{
		App: config.App{PasswordHashKey: "test-hash-key"},
		Storage: config.Storage{
			Files: config.Files{DataRoot: t.TempDir()},
		},
		Server: config.Server{
			BaseURL:      "/sync",
			BaseMediaURL: "/msync",
		},
	}

	services := service.NewServices(
		store.NewUserRepository(db, log),
		store.NewSessionRepository(db, log),
		cfg, log,
	)
	_, err = services.Auth.RegisterUser(ctx, "john", "secret")
	require.NoError(t, err)

	registry := worker.NewRegistry(func(ctx context.Context, path string) (*store.Collection, error) {
		return store.OpenCollection(ctx, path, log)
	}, time.Minute, log)
	t.Cleanup(func() { registry.Shutdown(context.Background()) })

	handler := NewHandler(services, registry, cfg.Server, log)
	server := httptest.NewServer(handler.Init())
	t.Cleanup(server.Close)
	return server, handler
}

func postForm(t *testing.T, server *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()

	resp, err := http.Post(server.URL+path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

// obtainHostKey logs in as the test account and returns the issued key.
func obtainHostKey(t *testing.T, server *httptest.Server) string {
	t.Helper()

	resp := postForm(t, server, "/sync/hostKey", url.Values{
		"data": {`{"u":"john","p":"secret"}`},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &result))
	require.NotEmpty(t, result.Key)
	return result.Key
}

func TestHostKey_IssuesSession(t *testing.T) {
	server, _ := newTestServer(t)
	key := obtainHostKey(t, server)
	assert.NotEmpty(t, key)
}

func TestHostKey_WrongPassword(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postForm(t, server, "/sync/hostKey", url.Values{
		"data": {`{"u":"john","p":"wrong"}`},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "null", string(readBody(t, resp)), "shipped clients test for a literal null body")
}

func TestSyncOp_UnknownOperation(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postForm(t, server, "/sync/selfDestruct", url.Values{"data": {"{}"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncOp_MissingSession(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postForm(t, server, "/sync/meta", url.Values{"data": {"{}"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "null", string(readBody(t, resp)))

	resp = postForm(t, server, "/sync/meta", url.Values{"k": {"bogus-key"}, "data": {"{}"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSyncOp_MetaWithGzippedPayload(t *testing.T) {
	server, _ := newTestServer(t)
	key := obtainHostKey(t, server)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"v":10,"cv":"ankidesktop,2.1.0,win"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	resp := postForm(t, server, "/sync/meta", url.Values{
		"k":    {key},
		"c":    {"1"},
		"data": {buf.String()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta struct {
		Usn  int64 `json:"usn"`
		Musn int64 `json:"musn"`
		Cont bool  `json:"cont"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &meta))
	assert.True(t, meta.Cont)
	assert.Equal(t, int64(0), meta.Usn)
	assert.Equal(t, int64(0), meta.Musn)
}

func TestSyncOp_MediaBeginOnMediaPrefix(t *testing.T) {
	server, _ := newTestServer(t)
	key := obtainHostKey(t, server)

	resp := postForm(t, server, "/msync/begin", url.Values{
		"k":    {key},
		"data": {"{}"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data struct {
			SK  string `json:"sk"`
			Usn int64  `json:"usn"`
		} `json:"data"`
		Err string `json:"err"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &envelope))
	assert.NotEmpty(t, envelope.Data.SK)
	assert.Equal(t, int64(0), envelope.Data.Usn)
	assert.Empty(t, envelope.Err)

	// the secondary key now resolves the session on its own
	resp = postForm(t, server, "/msync/mediaChanges", url.Values{
		"sk":   {envelope.Data.SK},
		"data": {`{"lastUsn":0}`},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncPass_EndToEnd(t *testing.T) {
	server, _ := newTestServer(t)
	key := obtainHostKey(t, server)

	post := func(op, payload string) *http.Response {
		return postForm(t, server, "/sync/"+op, url.Values{"k": {key}, "data": {payload}})
	}

	resp := post("start", `{"minUsn":0,"lnewer":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var graves struct {
		Cards []int64 `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &graves))
	assert.Empty(t, graves.Cards)

	resp = post("applyChunk", `{"chunk":{"done":true,"revlog":[[1,1,0,3,1,0,2500,500,0]]}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(readBody(t, resp)))

	resp = post("chunk", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chunk struct {
		Done bool `json:"done"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &chunk))

	resp = post("finish", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the closing meta reflects the finished pass
	resp = post("meta", `{"v":10,"cv":"ankidesktop,2.1.0,win"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta struct {
		Usn int64 `json:"usn"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &meta))
	assert.Equal(t, int64(1), meta.Usn)
}

func TestSyncOp_HooksBracketOperation(t *testing.T) {
	server, handler := newTestServer(t)
	key := obtainHostKey(t, server)

	var mu sync.Mutex
	var calls []string
	record := func(prefix string) Hook {
		return func(ctx context.Context, session *service.Session, op string) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, prefix+":"+session.Username+":"+op)
		}
	}
	handler.RegisterPreHook("meta", record("pre"))
	handler.RegisterPostHook("meta", record("post"))

	resp := postForm(t, server, "/sync/meta", url.Values{
		"k":    {key},
		"data": {`{"v":10,"cv":"ankidesktop,2.1.0,win"}`},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pre:john:meta", "post:john:meta"}, calls,
		"hooks receive the session and bracket the operation")
}

func TestSyncOp_PostHookSkippedOnFailure(t *testing.T) {
	server, handler := newTestServer(t)
	key := obtainHostKey(t, server)

	var mu sync.Mutex
	var calls []string
	record := func(prefix string) Hook {
		return func(ctx context.Context, session *service.Session, op string) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, prefix)
		}
	}
	handler.RegisterPreHook("chunk", record("pre"))
	handler.RegisterPostHook("chunk", record("post"))

	// chunk before start fails, so only the pre-hook fires
	resp := postForm(t, server, "/sync/chunk", url.Values{"k": {key}, "data": {""}})
	require.NotEqual(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pre"}, calls)
}

func TestSyncOp_MetaKeepsFieldsThePayloadOmits(t *testing.T) {
	server, handler := newTestServer(t)
	key := obtainHostKey(t, server)

	resp := postForm(t, server, "/sync/meta", url.Values{
		"k":    {key},
		"data": {`{"v":10,"cv":"ankidesktop,2.1.0,win"}`},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a bare meta must not zero out what the first one negotiated
	resp = postForm(t, server, "/sync/meta", url.Values{"k": {key}, "data": {"{}"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	session, err := handler.services.Sessions.Load(context.Background(), models.HostKey(key))
	require.NoError(t, err)
	assert.Equal(t, 10, session.Version)
	assert.Equal(t, "ankidesktop,2.1.0,win", session.ClientVersion)
}

func TestGreeting(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, greeting, string(readBody(t, resp)))
}

func TestWrongMethodLooksLikeMissingRoute(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/sync/meta")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
