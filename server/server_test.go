package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zfair/zuid/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.NewConfig()
	cfg.Logger = logger
	cfg.HTTPAddress = "127.0.0.1:0"
	cfg.RegistryDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Exit)
	return s
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.httpServer.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAllocateAndLookup(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: "Foo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var resp RecordResponse
	decode(t, rec, &resp)
	assert.Equal(t, RecordResponse{Registry: "types.toml", Name: "Foo", ID: 0, Type: "u64", Created: true}, resp)

	rec = doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: "Foo"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, uint64(0), resp.ID)
	assert.False(t, resp.Created)

	rec = doRequest(s, http.MethodGet, "/v1/registries/types.toml/ids/Foo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, uint64(0), resp.ID)

	rec = doRequest(s, http.MethodGet, "/v1/registries/types.toml/ids/Bar", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	buf, err := ioutil.ReadFile(filepath.Join(s.getCfg().RegistryDir, "types.toml"))
	require.NoError(t, err)
	assert.Equal(t, "Foo=0\n", string(buf))
}

func TestAllocateDefaultRegistryAndStart(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultRegistry = "default.toml"
		cfg.DefaultStart = 23
	})

	var resp RecordResponse
	rec := doRequest(s, http.MethodPost, "/v1/ids", AllocateRequest{Name: "Test1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &resp)
	assert.Equal(t, "default.toml", resp.Registry)
	assert.Equal(t, uint64(23), resp.ID)

	start := uint64(0)
	rec = doRequest(s, http.MethodPost, "/v1/ids", AllocateRequest{Name: "Test2", Start: &start})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, uint64(0), resp.ID)
}

func TestAllocateNarrowing(t *testing.T) {
	s := newTestServer(t, nil)
	path := filepath.Join(s.getCfg().RegistryDir, "types.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("Big=128\n"), 0644))

	rec := doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: "Big", Type: "i8"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not fit into i8")

	rec = doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: "Big", Type: "u8"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllocateBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		path string
		body interface{}
	}{
		{"/v1/registries/types.toml/ids", AllocateRequest{Name: ""}},
		{"/v1/registries/types.toml/ids", AllocateRequest{Name: "a=b"}},
		{"/v1/registries/types.toml/ids", AllocateRequest{Name: "Foo", Type: "f64"}},
		{"/v1/registries/types.toml/ids", "not an object"},
	}
	for _, c := range cases {
		rec := doRequest(s, http.MethodPost, c.path, c.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %v", c.path, c.body)
	}

	entries, err := ioutil.ReadDir(s.getCfg().RegistryDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistryPath(t *testing.T) {
	s := newTestServer(t, nil)
	dir := s.getCfg().RegistryDir

	name, path, err := s.httpServer.registryPath("")
	require.NoError(t, err)
	assert.Equal(t, "types.toml", name)
	assert.Equal(t, filepath.Join(dir, "types.toml"), path)

	for _, bad := range []string{".", "..", "a/b", `a\b`} {
		_, _, err := s.httpServer.registryPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestListRecords(t *testing.T) {
	s := newTestServer(t, nil)

	for _, name := range []string{"C", "A", "B"} {
		rec := doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: name})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(s, http.MethodGet, "/v1/registries/types.toml/ids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Registry string `json:"registry"`
		Records  []struct {
			Name string `json:"name"`
			ID   uint64 `json:"id"`
		} `json:"records"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Records, 3)
	for i, want := range []string{"C", "A", "B"} {
		assert.Equal(t, want, resp.Records[i].Name)
		assert.Equal(t, uint64(i), resp.Records[i].ID)
	}

	rec = doRequest(s, http.MethodGet, "/v1/registries/empty.toml/ids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"records":[]`)
	_, err := os.Stat(filepath.Join(s.getCfg().RegistryDir, "empty.toml"))
	assert.True(t, os.IsNotExist(err))
}

func TestSequence(t *testing.T) {
	s := newTestServer(t, nil)

	for want := uint64(0); want < 3; want++ {
		rec := doRequest(s, http.MethodPost, "/v1/sequence", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp SequenceResponse
		decode(t, rec, &resp)
		assert.Equal(t, SequenceResponse{Provider: "memory", ID: want}, resp)
	}
}

func TestRecordsMirror(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Storage = &config.ProviderInfo{
			Provider: "sqlite",
			Config:   map[string]interface{}{"dsn": filepath.Join(cfg.RegistryDir, "audit.db")},
		}
	})

	for _, name := range []string{"Foo", "Bar", "Foo"} {
		rec := doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: name})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(s, http.MethodGet, "/v1/records?registry=types.toml", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Records []struct {
			Registry string `json:"registry"`
			Name     string `json:"name"`
			ID       uint64 `json:"id"`
		} `json:"records"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "Foo", resp.Records[0].Name)
	assert.Equal(t, uint64(0), resp.Records[0].ID)
	assert.Equal(t, "Bar", resp.Records[1].Name)
	assert.Equal(t, uint64(1), resp.Records[1].ID)

	rec = doRequest(s, http.MethodGet, "/v1/records?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordsWithoutStorage(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/v1/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownProvider(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Logger = zap.NewNop()
	cfg.HTTPAddress = "127.0.0.1:0"
	cfg.Storage = &config.ProviderInfo{Provider: "mysql"}

	_, err := NewServer(cfg)
	assert.Error(t, err)

	cfg.Storage = nil
	cfg.DefaultIDType = "f32"
	_, err = NewServer(cfg)
	assert.Error(t, err)
}

func TestMetricsAndInfo(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/v1/registries/types.toml/ids", AllocateRequest{Name: "Foo"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zuid_registry_allocation_total{registry="types.toml",result="created"} 1`)

	rec = doRequest(s, http.MethodGet, "/v1/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	decode(t, rec, &info)
	assert.Equal(t, s.instanceID, info["instanceID"])
	assert.Equal(t, "memory", info["sequencer"])
}

func TestMainAndExit(t *testing.T) {
	s := newTestServer(t, nil)

	done := make(chan error, 1)
	go func() { done <- s.Main() }()

	url := fmt.Sprintf("http://%s/v1/registries/types.toml/ids", s.Addr())
	resp, err := http.Post(url, "application/json", strings.NewReader(`{"name":"Foo","start":5}`))
	require.NoError(t, err)
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"id":5`)

	s.Exit()
	assert.NoError(t, <-done)
}
