package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestConfigShow_Precedence(t *testing.T) {
	path := writeConfig(t, "config.toml", `
max_batch_size = 3
flush_timeout = "80ms"
max_retries = 1
auth_token = "secret"
`)
	t.Setenv("FALLBATCH_MAX_RETRIES", "5")

	out, err := execute(t, "config", "show", "--config", path, "--max-batch-size", "7", "--format", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "# source: "+path)
	assert.Contains(t, out, "max_batch_size: 7")
	assert.Contains(t, out, "flush_timeout: 80ms")
	assert.Contains(t, out, "wait_timeout: 160ms")
	assert.Contains(t, out, "max_retries: 5")
	assert.Contains(t, out, "****")
	assert.NotContains(t, out, "secret")
}

func TestConfigShow_Errors(t *testing.T) {
	_, err := execute(t, "config", "show", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "config", "show", "--format", "ini")
	assert.ErrorContains(t, err, "unknown format")

	_, err = execute(t, "config", "show", "--max-batch-size=-1")
	assert.Error(t, err)
}

func backendServer(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/batch") {
			var req struct {
				Items []json.RawMessage `json:"items"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			results := make([]string, len(req.Items))
			for i := range results {
				results[i] = "secondary"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
			return
		}
		_, _ = w.Write([]byte(`{"result":"secondary"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExec_FallsBackToSecondary(t *testing.T) {
	primary := backendServer(t, true)
	secondary := backendServer(t, false)

	out, err := execute(t, "exec", `{"symbol":"BTC"}`,
		"--primary-url", primary.URL,
		"--secondary-url", secondary.URL,
		"--max-retries", "0",
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Equal(t, `"secondary"`, strings.TrimSpace(out))
}

func TestExec_Batch(t *testing.T) {
	primary := backendServer(t, true)
	secondary := backendServer(t, false)

	out, err := execute(t, "exec", "--batch", "1", "2",
		"--primary-url", primary.URL,
		"--secondary-url", secondary.URL,
		"--max-retries", "0",
		"--attempt-timeout", (2 * time.Second).String(),
		"--log-level", "error",
	)
	require.NoError(t, err)

	var slots []execSlot
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	require.Len(t, slots, 2)
	for _, s := range slots {
		assert.Nil(t, s.Error)
		assert.JSONEq(t, `"secondary"`, string(s.Result))
	}
}

func TestExec_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid json", []string{"exec", "{nope"}, "not valid JSON"},
		{"several without batch", []string{"exec", "1", "2"}, "use --batch"},
		{"missing backends", []string{"exec", "1"}, "primary-url and secondary-url are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestExec_BatchNullSlotIsEmpty(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/batch") {
			_, _ = w.Write([]byte(`{"results":[null,"kept"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":"single"}`))
	}))
	t.Cleanup(primary.Close)
	secondary := backendServer(t, true)

	out, err := execute(t, "exec", "--batch", "1", "2",
		"--primary-url", primary.URL,
		"--secondary-url", secondary.URL,
		"--max-retries", "0",
		"--log-level", "error",
	)
	require.NoError(t, err)

	var slots []execSlot
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	require.Len(t, slots, 2)
	require.NotNil(t, slots[0].Error)
	assert.Contains(t, *slots[0].Error, "empty result")
	assert.JSONEq(t, `null`, string(slots[0].Result))
	assert.Nil(t, slots[1].Error)
	assert.JSONEq(t, `"kept"`, string(slots[1].Result))
}
