package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLossesSendsOnlyChangedCounts(t *testing.T) {
	var calls atomic.Int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v1/batches/b1/losses", r.URL.Path)
		assert.Equal(t, "farm-9", r.Header.Get("X-Farm-ID"))
		assert.Equal(t, "rami", r.Header.Get("X-Actor-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"batch":{"id":"b1","currentCount":95},"auditId":"a1"}`))
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "--farm", "farm-9", "--actor-id", "rami",
		"batch", "losses", "b1", "--dead", "5", "--reason", "heat")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, map[string]any{"dead": float64(5), "reason": "heat"}, body)
	assert.Contains(t, out, `"currentCount": 95`)
}

func TestRequiresFarm(t *testing.T) {
	t.Setenv("LEDGER_FARM_ID", "")
	_, err := run(t, "--server", "http://127.0.0.1:1", "batch", "availability", "b1")
	assert.ErrorContains(t, err, "--farm")
}

func TestQuantityMustBeInteger(t *testing.T) {
	_, err := run(t, "--farm", "f", "allocate", "b1", "h1", "12abc")
	assert.ErrorContains(t, err, "quantity")
}

func TestHouseCreateSendsCapacityOnlyWhenSet(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/houses", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"h1","name":"A"}`))
	}))
	defer srv.Close()

	_, err := run(t, "--server", srv.URL, "--farm", "f", "house", "create", "--name", "A")
	require.NoError(t, err)
	_, err = run(t, "--server", srv.URL, "--farm", "f", "house", "create", "--name", "closed", "--capacity", "0")
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, map[string]any{"name": "A"}, bodies[0])
	assert.Equal(t, map[string]any{"name": "closed", "capacity": float64(0)}, bodies[1])
}
