package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
)

// upstream is one provider this proxy can route to, keyed by the path prefix containers
// address it under ("/anthropic", "/openai").
type upstream struct {
	prefix     string
	baseURL    *url.URL
	credential Credential
}

// LLMProxy is the builtin-mode LLM reverse proxy (spec.md §4.6). It binds a host port
// reachable from containers via `host.docker.internal:<port>`, checks every request's
// ephemeral key, strips it, substitutes the real provider credential, and streams the
// response straight through.
type LLMProxy struct {
	ephemeralKey string
	upstreams    []upstream
}

// NewLLMProxy builds the proxy from provider credentials the caller has already resolved and
// the gateway's ephemeral key; a provider whose credential is empty gets no route.
func NewLLMProxy(anthropicCred, openaiCred Credential, ephemeralKey string) *LLMProxy {
	p := &LLMProxy{ephemeralKey: ephemeralKey}
	if anthropicCred.Value != "" {
		u, _ := url.Parse("https://api.anthropic.com")
		p.upstreams = append(p.upstreams, upstream{prefix: "/anthropic", baseURL: u, credential: anthropicCred})
	}
	if openaiCred.Value != "" {
		u, _ := url.Parse("https://api.openai.com")
		p.upstreams = append(p.upstreams, upstream{prefix: "/openai", baseURL: u, credential: openaiCred})
	}
	return p
}

// BaseURL returns the container-facing base URL for provider prefix (e.g. "/anthropic")
// given the host the gateway is bound on, for injection into ContainerInput.LLMBaseURL.
func BaseURL(containerFacingHost string, port int, prefix string) string {
	return "http://" + containerFacingHost + ":" + strconv.Itoa(port) + prefix
}

// Handler builds the http.Handler containers talk to. Every matched upstream is wired through
// its own httputil.ReverseProxy so streamed Server-Sent-Events responses pass through without
// buffering (FlushInterval < 0 flushes on every write).
func (p *LLMProxy) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, u := range p.upstreams {
		u := u
		proxy := &httputil.ReverseProxy{
			FlushInterval: -1,
			Director: func(req *http.Request) {
				req.URL.Scheme = u.baseURL.Scheme
				req.URL.Host = u.baseURL.Host
				req.URL.Path = strings.TrimPrefix(req.URL.Path, u.prefix)
				req.Host = u.baseURL.Host
				req.Header.Del("Authorization")
				req.Header.Del("X-Api-Key")
				req.Header.Set(u.credential.Header, u.credential.Value)
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				http.Error(w, "gateway: upstream error: "+err.Error(), http.StatusBadGateway)
			},
		}
		mux.Handle(u.prefix+"/", p.authenticated(proxy))
	}
	return mux
}

func (p *LLMProxy) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.checkKey(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *LLMProxy) checkKey(r *http.Request) bool {
	if p.ephemeralKey == "" {
		return false
	}
	if r.Header.Get("X-Api-Key") == p.ephemeralKey {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == p.ephemeralKey
}
