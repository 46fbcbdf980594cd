package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitCommand(t *testing.T) {
	var got struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	var authz, strategy string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emit", r.URL.Path)
		authz = r.Header.Get("Authorization")
		strategy = r.URL.Query().Get("strategy")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"emit", "shipment_created", "--url", srv.URL, "--token", "abc",
		"--strategy", "broadcast", "-d", `{"id":1,"origin_lat":1,"origin_long":2}`})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "shipment_created", got.Event)
	assert.JSONEq(t, `{"id":1,"origin_lat":1,"origin_long":2}`, string(got.Data))
	assert.Equal(t, "Bearer abc", authz)
	assert.Equal(t, "broadcast", strategy)
	assert.Contains(t, out.String(), "202 Accepted")
}

func TestEmitCommandRejectsInvalidData(t *testing.T) {
	rootCmd.SetArgs([]string{"emit", "bid_placed", "-d", `{`})
	assert.Error(t, rootCmd.Execute())
	emitData = "{}"
}
