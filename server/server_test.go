package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	facilitator "github.com/vitwit/x402-facilitator"
	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/types"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		ListenAddr: "127.0.0.1:0",
		RPCURLs: map[string]string{
			"base-sepolia":  "http://127.0.0.1:1",
			"solana-devnet": "http://127.0.0.1:1",
		},
	}
	f, err := facilitator.New(cfg)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	srv := httptest.NewServer(New(f, cfg.ListenAddr, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestSupportedEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/supported")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body types.SupportedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Kinds, 4, "each enabled network advertises both encodings")

	networks := make(map[string]bool)
	for _, k := range body.Kinds {
		networks[k.Network] = true
	}
	assert.True(t, networks["base-sepolia"])
	assert.True(t, networks["eip155:84532"])
	assert.True(t, networks["solana-devnet"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	blocklist, ok := body["blocklist"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "disabled", blocklist["status"])
}

func TestVerifyRejectsMalformedBody(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/verify", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body types.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.IsValid)
	assert.Equal(t, types.ReasonInvalidPayload, body.InvalidReason)
}

func TestVerifyDeclinesUnknownNetwork(t *testing.T) {
	srv := testServer(t)

	req := `{
	  "x402Version": 1,
	  "paymentPayload": {"scheme": "exact", "network": "dogechain",
	    "payload": {"signature": "0x00", "authorization": {"from": "0x857b06519E91e3A54538791bDbb0E22373e36b66", "to": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", "value": "1", "validAfter": "0", "validBefore": "9999999999", "nonce": "0xf408d6d1f1d1bca7c6396ed30f00a46ca4e5b073fff983e42b348776a5aa651c"}}},
	  "paymentRequirements": {"scheme": "exact", "network": "dogechain", "maxAmountRequired": "1", "payTo": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", "asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"}
	}`
	resp, err := http.Post(srv.URL+"/verify", "application/json", strings.NewReader(req))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body types.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.IsValid)
	assert.Equal(t, types.ReasonUnsupportedNetwork, body.InvalidReason)
}

func TestRequestIDPropagates(t *testing.T) {
	srv := testServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-Id"))

	// A missing request id is generated rather than left empty.
	resp2, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get("X-Request-Id"))
}
