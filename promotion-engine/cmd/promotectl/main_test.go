package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/config"
)

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(config.CtlConfig{ServiceURL: url, Timeout: time.Second}, &out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRetriggerCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/prospects/p-7/retrigger", r.URL.Path)
		_, _ = w.Write([]byte(`{"prospect_id":"p-7","client_id":"c-7","state":"completed"}`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "retrigger", "p-7")
	require.NoError(t, err)
	assert.Contains(t, out, `"client_id": "c-7"`)
}

func TestRetriggerCommandPrintsOutcomeOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"validation failed","outcome":{"prospect_id":"p-7","state":"failed"}}`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "retrigger", "p-7")
	require.Error(t, err)
	assert.Contains(t, out, `"state": "failed"`)
}

func TestHistoryCommandOverridesServiceFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promotions":[{"promotion_id":"promo-1","status":"completed"}]}`))
	}))
	defer srv.Close()

	out, err := run(t, "http://127.0.0.1:1", "history", "p-1", "--service", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "promo-1")
}

func TestCommandsRequireProspectID(t *testing.T) {
	_, err := run(t, "http://127.0.0.1:1", "readiness")
	assert.Error(t, err)
}
