package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/containerrt"
)

// litellmSecrets is the persistent-across-restarts material spec.md §4.6 requires for
// LiteLLM mode: "persistent master key, salt key, DB password cached to disk so the stored
// encrypted secrets remain decryptable across restarts."
type litellmSecrets struct {
	MasterKey  string `json:"master_key"`
	SaltKey    string `json:"salt_key"`
	DBPassword string `json:"db_password"`
}

// workspaceGrant is the cached (folder -> team_id + virtual_key) pair LiteLLM mode persists
// so re-registering a workspace on every restart isn't necessary.
type workspaceGrant struct {
	TeamID     string `json:"team_id"`
	VirtualKey string `json:"virtual_key"`
}

// LiteLLMGateway runs the alternative LLM+MCP gateway backend: a private Postgres + LiteLLM
// container pair, fronted by LiteLLM's own proxy and admin API instead of this repo's builtin
// LLMProxy/MCPProxy.
type LiteLLMGateway struct {
	rt       *containerrt.Runtime
	cfg      config.GatewayConfig
	network  string
	cacheDir string

	secrets litellmSecrets
	grants  map[string]workspaceGrant

	adminBaseURL string
	httpClient   *http.Client
}

// NewLiteLLMGateway loads (or generates) the persisted secrets and grant cache from cacheDir.
func NewLiteLLMGateway(rt *containerrt.Runtime, cfg config.GatewayConfig, network, cacheDir string) (*LiteLLMGateway, error) {
	g := &LiteLLMGateway{
		rt: rt, cfg: cfg, network: network, cacheDir: cacheDir,
		grants:     make(map[string]workspaceGrant),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if err := g.loadOrGenerateSecrets(); err != nil {
		return nil, err
	}
	if err := g.loadGrants(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *LiteLLMGateway) secretsPath() string { return filepath.Join(g.cacheDir, "litellm-secrets.json") }
func (g *LiteLLMGateway) grantsPath() string  { return filepath.Join(g.cacheDir, "litellm-grants.json") }

func (g *LiteLLMGateway) loadOrGenerateSecrets() error {
	data, err := os.ReadFile(g.secretsPath())
	if err == nil {
		return json.Unmarshal(data, &g.secrets)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("read litellm secrets cache: %w", err)
	}

	masterKey, err := randomSecret(32)
	if err != nil {
		return err
	}
	saltKey, err := randomSecret(32)
	if err != nil {
		return err
	}
	dbPassword, err := randomSecret(24)
	if err != nil {
		return err
	}
	g.secrets = litellmSecrets{MasterKey: "sk-" + masterKey, SaltKey: saltKey, DBPassword: dbPassword}
	return g.saveSecrets()
}

func (g *LiteLLMGateway) saveSecrets() error {
	if err := os.MkdirAll(g.cacheDir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(g.secrets)
	if err != nil {
		return err
	}
	return os.WriteFile(g.secretsPath(), data, 0o600)
}

func (g *LiteLLMGateway) loadGrants() error {
	data, err := os.ReadFile(g.grantsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read litellm grants cache: %w", err)
	}
	return json.Unmarshal(data, &g.grants)
}

func (g *LiteLLMGateway) saveGrants() error {
	data, err := json.Marshal(g.grants)
	if err != nil {
		return err
	}
	return os.WriteFile(g.grantsPath(), data, 0o600)
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// envRefPattern matches a LiteLLM config value of the form "os.environ/NAME".
var envRefPattern = regexp.MustCompile(`^os\.environ/(.+)$`)

// resolveEnvRefs walks the raw YAML config, finds every "os.environ/<NAME>" string value,
// and returns the set of host environment variables that must be forwarded into the LiteLLM
// container — LITELLM_MASTER_KEY is deliberately excluded, since master-key material is
// gateway-managed (spec.md's worked example).
func resolveEnvRefs(yamlDoc []byte) ([]string, error) {
	var raw any
	if err := yaml.Unmarshal(yamlDoc, &raw); err != nil {
		return nil, fmt.Errorf("parse litellm config: %w", err)
	}
	names := map[string]struct{}{}
	collectEnvRefs(raw, names)

	refs := make([]string, 0, len(names))
	for name := range names {
		if name == "LITELLM_MASTER_KEY" {
			continue
		}
		refs = append(refs, name)
	}
	return refs, nil
}

func collectEnvRefs(node any, out map[string]struct{}) {
	switch v := node.(type) {
	case string:
		if m := envRefPattern.FindStringSubmatch(v); m != nil {
			out[m[1]] = struct{}{}
		}
	case map[string]any:
		for _, val := range v {
			collectEnvRefs(val, out)
		}
	case []any:
		for _, val := range v {
			collectEnvRefs(val, out)
		}
	}
}

// Start brings up Postgres then LiteLLM on a private docker network, forwarding every
// os.environ/<NAME> reference from the YAML config as a literal env var, and waits for both
// to report healthy.
func (g *LiteLLMGateway) Start(ctx context.Context) error {
	if err := g.rt.EnsureNetwork(ctx, g.network); err != nil {
		return fmt.Errorf("litellm: ensure network: %w", err)
	}

	pgImage := g.cfg.PostgresImage
	if pgImage == "" {
		pgImage = "postgres:16-alpine"
	}
	if err := g.rt.PullIfMissing(ctx, pgImage); err != nil {
		return fmt.Errorf("litellm: pull postgres image: %w", err)
	}
	if _, err := g.rt.Run(ctx, containerrt.RunSpec{
		Name:  "pynchy-litellm-postgres",
		Image: pgImage,
		Env: []string{
			"POSTGRES_DB=litellm",
			"POSTGRES_USER=litellm",
			"POSTGRES_PASSWORD=" + g.secrets.DBPassword,
		},
		Network: g.network,
	}); err != nil {
		return fmt.Errorf("litellm: start postgres: %w", err)
	}
	if err := g.waitHealthy(ctx, "postgres"); err != nil {
		return err
	}

	litellmImage := g.cfg.LiteLLMImage
	if litellmImage == "" {
		litellmImage = "ghcr.io/berriai/litellm:main-stable"
	}
	if err := g.rt.PullIfMissing(ctx, litellmImage); err != nil {
		return fmt.Errorf("litellm: pull litellm image: %w", err)
	}

	env := []string{
		"LITELLM_MASTER_KEY=" + g.secrets.MasterKey,
		"LITELLM_SALT_KEY=" + g.secrets.SaltKey,
		"DATABASE_URL=postgresql://litellm:" + g.secrets.DBPassword + "@pynchy-litellm-postgres:5432/litellm",
	}
	if g.cfg.LiteLLMConfigPath != "" {
		doc, err := os.ReadFile(g.cfg.LiteLLMConfigPath)
		if err != nil {
			return fmt.Errorf("litellm: read config %s: %w", g.cfg.LiteLLMConfigPath, err)
		}
		refs, err := resolveEnvRefs(doc)
		if err != nil {
			return err
		}
		for _, name := range refs {
			if val := os.Getenv(name); val != "" {
				env = append(env, name+"="+val)
			}
		}
	}

	if _, err := g.rt.Run(ctx, containerrt.RunSpec{
		Name: "pynchy-litellm", Image: litellmImage, Env: env, Network: g.network,
		Ports: []containerrt.PortBinding{{ContainerPort: "4000/tcp", HostPort: "4000"}},
	}); err != nil {
		return fmt.Errorf("litellm: start litellm: %w", err)
	}
	g.adminBaseURL = "http://127.0.0.1:4000"
	return g.waitHealthy(ctx, "litellm")
}

func (g *LiteLLMGateway) waitHealthy(ctx context.Context, name string) error {
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		running, exists, err := g.rt.Inspect(ctx, "pynchy-litellm-"+name)
		if name == "litellm" {
			running, exists, err = g.rt.Inspect(ctx, "pynchy-litellm")
		}
		if err == nil && exists && running {
			if name == "postgres" {
				return nil // no exported DB ping from containerrt; container-running is our signal
			}
			if g.pingHealth(ctx) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("litellm: %s did not become healthy within 60s", name)
}

func (g *LiteLLMGateway) pingHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.adminBaseURL+"/health/liveliness", nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureWorkspaceGrant registers (or reuses) a LiteLLM team + virtual key for folder via the
// admin API, persisting the result so it survives restarts.
func (g *LiteLLMGateway) EnsureWorkspaceGrant(ctx context.Context, folder string) (workspaceGrant, error) {
	if grant, ok := g.grants[folder]; ok {
		return grant, nil
	}

	teamID, err := g.adminPost(ctx, "/team/new", map[string]any{"team_alias": "pynchy-" + folder})
	if err != nil {
		return workspaceGrant{}, fmt.Errorf("litellm: create team for %s: %w", folder, err)
	}
	keyResp, err := g.adminPost(ctx, "/key/generate", map[string]any{"team_id": teamID})
	if err != nil {
		return workspaceGrant{}, fmt.Errorf("litellm: generate key for %s: %w", folder, err)
	}

	grant := workspaceGrant{TeamID: teamID, VirtualKey: keyResp}
	g.grants[folder] = grant
	if err := g.saveGrants(); err != nil {
		return grant, fmt.Errorf("litellm: persist grant cache: %w", err)
	}
	return grant, nil
}

// adminPost calls one of LiteLLM's admin endpoints and returns the "team_id" or "key" field
// of the response, whichever this endpoint produces.
func (g *LiteLLMGateway) adminPost(ctx context.Context, path string, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.adminBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.secrets.MasterKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("litellm admin %s: status %d", path, resp.StatusCode)
	}

	var out struct {
		TeamID string `json:"team_id"`
		Key    string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.TeamID != "" {
		return out.TeamID, nil
	}
	return out.Key, nil
}
