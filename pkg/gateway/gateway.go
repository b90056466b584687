package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
)

// Gateway is the host-owned LLM+MCP gateway (spec.md §4.6), started before any container is
// spawned so its URL and ephemeral key can be injected into every ContainerInput.
type Gateway struct {
	cfg          config.GatewayConfig
	ephemeralKey string
	llm          *LLMProxy
	mcp          *MCPProxy
	instances    *InstanceManager
	litellm      *LiteLLMGateway

	server *http.Server
	logger *slog.Logger
}

// New builds the builtin-mode gateway: resolves real provider credentials, mints an
// ephemeral key, and wires the LLM and MCP proxies. instances is built by the caller via
// NewInstanceManager — the security gate needs the same InstanceManager to resolve an
// instance id back to its owning folder, so it must exist before the writeGate/readGate it's
// handed here are constructed; the gateway doesn't build its own. For LiteLLM mode, construct
// a *LiteLLMGateway separately via NewLiteLLMGateway instead — the two modes are mutually
// exclusive per cfg.Mode().
func New(cfg config.GatewayConfig, secrets config.SecretsConfig, instances *InstanceManager, writeGate WriteEvaluator, readGate ReadEvaluator, inspectors []Inspector, approver Approver) (*Gateway, error) {
	ephemeralKey, err := GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}

	anthropicCred, err := ResolveAnthropicCredential(secrets)
	if err != nil {
		slog.Warn("gateway: anthropic credential unavailable, /anthropic route disabled", "error", err)
	}
	openaiCred, err := ResolveOpenAICredential(secrets)
	if err != nil {
		slog.Warn("gateway: openai credential unavailable, /openai route disabled", "error", err)
	}

	llm := NewLLMProxy(anthropicCred, openaiCred, ephemeralKey)
	mcp := NewMCPProxy(instances, writeGate, readGate, inspectors, approver)

	return &Gateway{
		cfg: cfg, ephemeralKey: ephemeralKey, llm: llm, mcp: mcp, instances: instances,
		logger: slog.Default().With("component", "gateway"),
	}, nil
}

// EphemeralKey returns the key every container must present, for injection into
// ContainerInput.LLMEphemeralKey.
func (g *Gateway) EphemeralKey() string { return g.ephemeralKey }

// Instances exposes the MCP instance manager so the session manager can ensure a workspace's
// required MCP instances are running before writing its ContainerInput (spec.md §4.1 step 3)
// and release them when the session ends.
func (g *Gateway) Instances() *InstanceManager { return g.instances }

// MCPServerURL returns the container-facing URL for folder's already-ensured instance of
// serverName, for populating ContainerInput.MCPServers.
func (g *Gateway) MCPServerURL(containerFacingHost string, folder, serverName, instanceID string) string {
	return fmt.Sprintf("http://%s:%d/mcp/%s/%d/%s", containerFacingHost, g.cfg.Port, folder, time.Now().UnixNano(), instanceID)
}

// Start binds the combined LLM+MCP listener and serves until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", g.llm.Handler())
	mux.Handle("/mcp/", g.mcp.Handler())

	addr := net.JoinHostPort(g.cfg.Bind, fmt.Sprint(g.cfg.Port))
	g.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(ln) }()

	g.logger.Info("gateway listening", "addr", addr)
	select {
	case <-ctx.Done():
		return g.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway: serve: %w", err)
		}
		return nil
	}
}

// Shutdown gracefully stops the listener (spec.md §4.8's "stop MCP gateway" shutdown phase).
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}
