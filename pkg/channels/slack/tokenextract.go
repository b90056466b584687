package slack

import (
	"context"
	"errors"
	"os"
)

// TokenExtractor documents the contract of a browser-automation Slack token refresher
// (the Go port of original_source/scripts/extract_slack_token.py's refresh_slack_tokens
// tool). Implementations drive a headless browser against a persistent session profile to
// pull fresh xoxc/xoxd tokens when a workspace's bot token expires. No pack dependency
// supplies a headless-browser driver, so only the contract and a stub are provided here;
// wiring a real implementation is left to whichever MCP tool process owns DISPLAY.
type TokenExtractor interface {
	// RefreshTokens extracts fresh xoxc/xoxd tokens from workspaceName's persistent
	// browser profile and returns them for the caller to persist (e.g. into .env).
	RefreshTokens(ctx context.Context, workspaceName, workspaceURL string) (xoxc, xoxd string, err error)
}

// ErrNoDisplay is returned by the stub extractor when DISPLAY is unset, mirroring the
// original script's headless-server check before attempting any browser automation.
var ErrNoDisplay = errors.New("slack: no DISPLAY set; token extraction requires a virtual or real X display")

// StubTokenExtractor is a TokenExtractor that always fails with ErrNoDisplay or
// ErrNotImplemented, documenting the contract without pulling in a headless-browser
// dependency.
type StubTokenExtractor struct{}

// ErrNotImplemented is returned once a display is present but no browser driver is wired.
var ErrNotImplemented = errors.New("slack: token extraction requires a browser-automation driver, none configured")

// RefreshTokens implements TokenExtractor.
func (StubTokenExtractor) RefreshTokens(ctx context.Context, workspaceName, workspaceURL string) (string, string, error) {
	if os.Getenv("DISPLAY") == "" {
		return "", "", ErrNoDisplay
	}
	return "", "", ErrNotImplemented
}
