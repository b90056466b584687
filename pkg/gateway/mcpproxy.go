package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"
)

// MCPProxy implements spec.md §4.6's MCP proxy: one local HTTP server routing
// `POST /mcp/<folder>/<invocation_ts>/<instance_id><tail>` to the backend URL of the
// already-running MCP instance, gating every call through the security gate and fencing
// untrusted responses from public_source servers.
type MCPProxy struct {
	instances  *InstanceManager
	writeGate  WriteEvaluator
	readGate   ReadEvaluator
	inspectors []Inspector
	approver   Approver
}

// NewMCPProxy wires the instance registry to the security gate. writeGate/readGate/approver
// may be nil in tests that only exercise routing; a nil approver makes a needs_human verdict
// an outright denial instead of waiting on a human.
func NewMCPProxy(instances *InstanceManager, writeGate WriteEvaluator, readGate ReadEvaluator, inspectors []Inspector, approver Approver) *MCPProxy {
	return &MCPProxy{instances: instances, writeGate: writeGate, readGate: readGate, inspectors: inspectors, approver: approver}
}

// Handler returns the http.Handler mounted at "/mcp/".
func (p *MCPProxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp/{folder}/{ts}/{instanceID}", p.serveMCP)
	mux.HandleFunc("POST /mcp/{folder}/{ts}/{instanceID}/{tail...}", p.serveMCP)
	return mux
}

func (p *MCPProxy) serveMCP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), backendCallTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	folder := r.PathValue("folder")
	instanceID := r.PathValue("instanceID")

	inst, ok := p.instances.Lookup(instanceID)
	if !ok {
		http.Error(w, "unknown mcp instance", http.StatusNotFound)
		return
	}
	if inst.Folder != folder {
		http.Error(w, "instance does not belong to folder", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if p.writeGate != nil {
		toolName, args := parseToolCall(body)
		if toolName != "" {
			verdict, reason, err := p.writeGate.EvaluateWrite(r.Context(), folder, toolName, args)
			if err != nil {
				http.Error(w, "security gate error: "+err.Error(), http.StatusInternalServerError)
				return
			}
			if verdict == VerdictDenied {
				http.Error(w, reason, http.StatusForbidden)
				return
			}
			if verdict == VerdictNeedsHuman {
				if p.approver == nil {
					http.Error(w, reason, http.StatusForbidden)
					return
				}
				approved, err := p.approver.RequestApproval(r.Context(), folder, toolName, args)
				if err != nil || !approved {
					http.Error(w, "denied: "+reason, http.StatusForbidden)
					return
				}
			}
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = inst.BackendURL.Scheme
			req.URL.Host = inst.BackendURL.Host
			req.Host = inst.BackendURL.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			if !inst.PublicSource {
				return nil
			}
			return p.fenceResponse(r, inst, resp)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, "mcp backend error: "+err.Error(), http.StatusBadGateway)
		},
	}
	proxy.ServeHTTP(w, r)
}

// mcpContentResult mirrors the subset of an MCP tool-call result this proxy needs to see:
// a list of content blocks, each optionally carrying freeform text.
type mcpContentResult struct {
	Result struct {
		Content []mcpContentBlock `json:"content"`
	} `json:"result"`
}

type mcpContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// fenceResponse implements the public_source response path: evaluate_read taints the gate,
// then every text content block is either replaced (if an Inspector flags it) or wrapped in
// untrusted-content markers.
func (p *MCPProxy) fenceResponse(r *http.Request, inst *Instance, resp *http.Response) error {
	if p.readGate != nil {
		if err := p.readGate.EvaluateRead(r.Context(), inst.ID); err != nil {
			return fmt.Errorf("evaluate_read: %w", err)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	resp.Body.Close()

	var parsed mcpContentResult
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Result.Content) == 0 {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		return nil
	}

	for i, block := range parsed.Result.Content {
		if block.Type != "text" || block.Text == "" {
			continue
		}
		parsed.Result.Content[i].Text = FenceUntrustedText(block.Text, p.inspectors)
	}

	rewritten, err := json.Marshal(parsed)
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(rewritten))
	resp.ContentLength = int64(len(rewritten))
	resp.Header.Set("Content-Length", fmt.Sprint(len(rewritten)))
	return nil
}

// parseToolCall extracts a JSON-RPC "tools/call" request's tool name and arguments, if body
// is shaped that way. Returns "" if it isn't a tool call this gate needs to evaluate.
func parseToolCall(body []byte) (string, map[string]any) {
	var req struct {
		Method string `json:"method"`
		Params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Method != "tools/call" {
		return "", nil
	}
	return req.Params.Name, req.Params.Arguments
}

// backendCallTimeout bounds MCP backend calls per spec.md §4.2's suspension-point table
// ("MCP backend calls (default 30s)").
const backendCallTimeout = 30 * time.Second
