// Package gateway is the LLM + MCP Gateway (spec.md §4.6): a reverse proxy that authenticates
// containers with an ephemeral key and substitutes real provider credentials the container
// never sees, plus an MCP proxy that enforces the security gate on every tool call.
package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crypdick/pynchy/pkg/config"
)

// Credential is a resolved upstream provider credential: a bearer token/API key plus the
// header it belongs in.
type Credential struct {
	Header string // "Authorization" or "x-api-key"
	Value  string // including any "Bearer " prefix the provider expects
}

// claudeCLICredentials mirrors the subset of the Claude CLI's ~/.claude/.credentials.json
// this gateway cares about — the host never prompts for its own OAuth flow, it just reads
// whatever the operator already has cached from running the CLI once.
type claudeCLICredentials struct {
	ClaudeAiOauth struct {
		AccessToken string `json:"accessToken"`
	} `json:"claudeAiOauth"`
}

// ResolveAnthropicCredential implements spec.md §4.6's priority chain: API key, then an
// explicitly configured OAuth token, then whatever OAuth token the Claude CLI has cached on
// disk.
func ResolveAnthropicCredential(secrets config.SecretsConfig) (Credential, error) {
	if secrets.AnthropicAPIKey != "" {
		return Credential{Header: "x-api-key", Value: secrets.AnthropicAPIKey}, nil
	}
	if secrets.ClaudeOAuthToken != "" {
		return Credential{Header: "Authorization", Value: "Bearer " + secrets.ClaudeOAuthToken}, nil
	}
	if token, err := readClaudeCLIOAuthToken(); err == nil && token != "" {
		return Credential{Header: "Authorization", Value: "Bearer " + token}, nil
	}
	return Credential{}, fmt.Errorf("gateway: no Anthropic credential available (api key, oauth token, or CLI cache)")
}

// ResolveOpenAICredential implements the OpenAI half of the same chain.
func ResolveOpenAICredential(secrets config.SecretsConfig) (Credential, error) {
	if secrets.OpenAIAPIKey != "" {
		return Credential{Header: "Authorization", Value: "Bearer " + secrets.OpenAIAPIKey}, nil
	}
	return Credential{}, fmt.Errorf("gateway: no OpenAI credential available")
}

// readClaudeCLIOAuthToken reads the Claude CLI's own credentials cache, the same file the
// `claude` binary itself writes after an interactive `/login`.
func readClaudeCLIOAuthToken() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(home, ".claude", ".credentials.json"))
	if err != nil {
		return "", err
	}
	var creds claudeCLICredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse claude CLI credentials: %w", err)
	}
	return creds.ClaudeAiOauth.AccessToken, nil
}

// GenerateEphemeralKey returns a fresh "gw-<32 urlsafe bytes>" key, regenerated every gateway
// start so no container ever holds a credential that survives a restart.
func GenerateEphemeralKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("gateway: generate ephemeral key: %w", err)
	}
	return "gw-" + base64.RawURLEncoding.EncodeToString(buf), nil
}
