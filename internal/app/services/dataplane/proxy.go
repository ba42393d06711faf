package dataplane

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/R3E-Network/service_layer/internal/app/domain/dsp"
	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/internal/app/metrics"
)

// Proxy serves /data/pull/{session_id}[/...] and /data/push/{session_id}[/...]
// per §4.4's six-step contract. It is the one component in this connector
// built directly on net/http/httputil.ReverseProxy: no example repo in this
// codebase's lineage forwards arbitrary upstream bytes, so there is no
// established ecosystem pattern here to follow instead.
type Proxy struct {
	coordinator *Coordinator
}

// NewProxy constructs a Proxy bound to coordinator for session lookups and
// event logging.
func NewProxy(coordinator *Coordinator) *Proxy {
	return &Proxy{coordinator: coordinator}
}

// direction identifies which route prefix served the request.
type direction struct {
	prefix string
	want   dsp.TransferDirection
}

var routes = []direction{
	{prefix: "/data/pull/", want: dsp.TransferPull},
	{prefix: "/data/push/", want: dsp.TransferPush},
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		route     direction
		sessionID string
		rest      string
		matched   bool
	)
	for _, rt := range routes {
		if strings.HasPrefix(r.URL.Path, rt.prefix) {
			route = rt
			trimmed := strings.TrimPrefix(r.URL.Path, rt.prefix)
			parts := strings.SplitN(trimmed, "/", 2)
			sessionID = parts[0]
			if len(parts) == 2 {
				rest = "/" + parts[1]
			}
			matched = true
			break
		}
	}
	if !matched || sessionID == "" {
		writeError(w, dsperr.NotFound("no data plane route matched %q", r.URL.Path))
		return
	}

	// Step 1: look up session.
	sess, err := p.coordinator.Status(r.Context(), sessionID)
	if err != nil {
		writeError(w, dsperr.NotFound("data plane session %q", sessionID))
		return
	}

	// Step 2: verify STARTED.
	if sess.State != dsp.SessionStarted {
		writeError(w, dsperr.Unauthorized("session %q is not started", sessionID))
		return
	}

	// Step 3: verify direction matches route.
	if sess.Direction != route.want {
		writeError(w, dsperr.BadPayload("session %q direction mismatch", sessionID))
		return
	}

	// Step 4: resolve upstream endpoint.
	upstreamURL, err := url.Parse(sess.UpstreamAddress)
	if err != nil || sess.UpstreamAddress == "" {
		writeError(w, dsperr.Internal("session %q has no resolvable upstream address", sessionID))
		return
	}

	// Step 5: forward method, headers, body; stream response back.
	reverse := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = upstreamURL.Scheme
			req.URL.Host = upstreamURL.Host
			req.URL.Path = strings.TrimRight(upstreamURL.Path, "/") + rest
			req.Host = upstreamURL.Host
			if sess.AuthMaterial != "" {
				req.Header.Set("Authorization", sess.AuthMaterial)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			go p.logHop(sessionID, r.Method, resp.StatusCode)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, dsperr.Wrap(dsperr.KindPeerError, err, "upstream forward failed"))
		},
	}
	reverse.ServeHTTP(w, r)
}

func (p *Proxy) logHop(sessionID, method string, status int) {
	statusStr := fmt.Sprintf("%d", status)
	metrics.RecordProxyHop(statusStr)
	_ = p.coordinator.RecordEvent(
		context.Background(),
		sessionID,
		method,
		statusStr,
		nil,
	)
}

func writeError(w http.ResponseWriter, e *dsperr.Error) {
	e = dsperr.As(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	fmt.Fprintf(w, `{"@type":"*Error","code":%q,"reason":%q}`, e.Kind, e.Message)
}
