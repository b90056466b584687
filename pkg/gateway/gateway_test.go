package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAnthropicCredentialPrefersAPIKey(t *testing.T) {
	cred, err := ResolveAnthropicCredential(config.SecretsConfig{
		AnthropicAPIKey: "sk-ant-test", ClaudeOAuthToken: "oat-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "x-api-key", cred.Header)
	assert.Equal(t, "sk-ant-test", cred.Value)
}

func TestResolveAnthropicCredentialFallsBackToOAuthToken(t *testing.T) {
	cred, err := ResolveAnthropicCredential(config.SecretsConfig{ClaudeOAuthToken: "oat-test"})
	require.NoError(t, err)
	assert.Equal(t, "Authorization", cred.Header)
	assert.Equal(t, "Bearer oat-test", cred.Value)
}

func TestResolveAnthropicCredentialErrorsWhenNoneConfigured(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := ResolveAnthropicCredential(config.SecretsConfig{})
	assert.Error(t, err)
}

func TestGenerateEphemeralKeyIsUniqueAndPrefixed(t *testing.T) {
	a, err := GenerateEphemeralKey()
	require.NoError(t, err)
	b, err := GenerateEphemeralKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "gw-"))
	assert.NotEqual(t, a, b)
}

func TestLLMProxyRejectsMissingOrWrongKey(t *testing.T) {
	p := NewLLMProxy(Credential{Header: "x-api-key", Value: "real-key"}, Credential{}, "gw-expected")
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/anthropic/v1/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/anthropic/v1/messages", nil)
	req.Header.Set("X-Api-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLLMProxyForwardsWithSubstitutedCredential(t *testing.T) {
	var gotHeader string
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamServer.Close()

	p := NewLLMProxy(Credential{Header: "x-api-key", Value: "real-upstream-key"}, Credential{}, "gw-expected")
	u, err := url.Parse(upstreamServer.URL)
	require.NoError(t, err)
	p.upstreams[0].baseURL = u

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/anthropic/v1/messages", nil)
	req.Header.Set("X-Api-Key", "gw-expected")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "real-upstream-key", gotHeader)
}

func TestInstanceManagerReusesRemoteInstanceByFolder(t *testing.T) {
	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{
		"weather": {BackendURL: "http://127.0.0.1:9999", PublicSource: true},
	}, "pynchy-mcp", 9100)

	first, err := mgr.EnsureInstance(context.Background(), "acme", "weather")
	require.NoError(t, err)
	second, err := mgr.EnsureInstance(context.Background(), "acme", "weather")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := mgr.EnsureInstance(context.Background(), "other-folder", "weather")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestInstanceManagerRejectsUnknownServer(t *testing.T) {
	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{}, "pynchy-mcp", 9100)
	_, err := mgr.EnsureInstance(context.Background(), "acme", "nope")
	assert.Error(t, err)
}

func TestMCPProxyFencesPublicSourceTextContent(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"content": []map[string]any{{"type": "text", "text": "hello from the internet"}},
			},
		})
	}))
	defer backend.Close()

	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{
		"web": {BackendURL: backend.URL, PublicSource: true},
	}, "pynchy-mcp", 9100)
	inst, err := mgr.EnsureInstance(context.Background(), "acme", "web")
	require.NoError(t, err)

	proxy := NewMCPProxy(mgr, nil, nil, nil, nil)
	srv := httptest.NewServer(proxy.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp/acme/123/"+inst.ID, "application/json", strings.NewReader(`{"method":"tools/call","params":{"name":"fetch"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out mcpContentResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Result.Content, 1)
	assert.Contains(t, out.Result.Content[0].Text, "untrusted_mcp_content")
	assert.Contains(t, out.Result.Content[0].Text, "hello from the internet")
}

func TestMCPProxyDeniesToolCallOnWriteGateVerdict(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be reached when the gate denies the call")
	}))
	defer backend.Close()

	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{
		"fs": {BackendURL: backend.URL},
	}, "pynchy-mcp", 9100)
	inst, err := mgr.EnsureInstance(context.Background(), "acme", "fs")
	require.NoError(t, err)

	proxy := NewMCPProxy(mgr, denyEverything{}, nil, nil, nil)
	srv := httptest.NewServer(proxy.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp/acme/123/"+inst.ID, "application/json", strings.NewReader(`{"method":"tools/call","params":{"name":"rm_rf"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestResolveEnvRefsSkipsMasterKey(t *testing.T) {
	doc := []byte(`
model_list:
  - model_name: claude
    litellm_params:
      api_key: os.environ/PYNCHY_ANTHROPIC_TOKEN
general_settings:
  master_key: os.environ/LITELLM_MASTER_KEY
`)
	refs, err := resolveEnvRefs(doc)
	require.NoError(t, err)
	assert.Contains(t, refs, "PYNCHY_ANTHROPIC_TOKEN")
	assert.NotContains(t, refs, "LITELLM_MASTER_KEY")
}

type denyEverything struct{}

func (denyEverything) EvaluateWrite(ctx context.Context, folder, toolName string, args map[string]any) (Verdict, string, error) {
	return VerdictDenied, "blocked in test", nil
}

type needsHumanGate struct{}

func (needsHumanGate) EvaluateWrite(ctx context.Context, folder, toolName string, args map[string]any) (Verdict, string, error) {
	return VerdictNeedsHuman, "needs a human in test", nil
}

type fakeApprover struct{ approve bool }

func (a fakeApprover) RequestApproval(ctx context.Context, folder, tool string, args map[string]any) (bool, error) {
	return a.approve, nil
}

func TestMCPProxyAllowsToolCallOnceApproverApproves(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"content":[]}}`))
	}))
	defer backend.Close()

	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{
		"fs": {BackendURL: backend.URL},
	}, "pynchy-mcp", 9100)
	inst, err := mgr.EnsureInstance(context.Background(), "acme", "fs")
	require.NoError(t, err)

	proxy := NewMCPProxy(mgr, needsHumanGate{}, nil, nil, fakeApprover{approve: true})
	srv := httptest.NewServer(proxy.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp/acme/123/"+inst.ID, "application/json", strings.NewReader(`{"method":"tools/call","params":{"name":"rm_rf"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMCPProxyDeniesToolCallWhenApproverRejects(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be reached when the approver denies the call")
	}))
	defer backend.Close()

	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{
		"fs": {BackendURL: backend.URL},
	}, "pynchy-mcp", 9100)
	inst, err := mgr.EnsureInstance(context.Background(), "acme", "fs")
	require.NoError(t, err)

	proxy := NewMCPProxy(mgr, needsHumanGate{}, nil, nil, fakeApprover{approve: false})
	srv := httptest.NewServer(proxy.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp/acme/123/"+inst.ID, "application/json", strings.NewReader(`{"method":"tools/call","params":{"name":"rm_rf"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMCPProxyDeniesNeedsHumanWhenNoApproverWired(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be reached without an approver")
	}))
	defer backend.Close()

	mgr := NewInstanceManager(nil, map[string]config.MCPServerConfig{
		"fs": {BackendURL: backend.URL},
	}, "pynchy-mcp", 9100)
	inst, err := mgr.EnsureInstance(context.Background(), "acme", "fs")
	require.NoError(t, err)

	proxy := NewMCPProxy(mgr, needsHumanGate{}, nil, nil, nil)
	srv := httptest.NewServer(proxy.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp/acme/123/"+inst.ID, "application/json", strings.NewReader(`{"method":"tools/call","params":{"name":"rm_rf"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
