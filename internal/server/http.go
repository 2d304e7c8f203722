package server

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"modelrelay/internal/logging"
	"modelrelay/internal/proxy"
	"modelrelay/internal/stream"
	"modelrelay/internal/transform"
	"modelrelay/internal/types"
)

type modelEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type modelList struct {
	Data []modelEntry `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	list := modelList{Data: make([]modelEntry, 0)}
	for _, name := range s.router.Models() {
		list.Data = append(list.Data, modelEntry{ID: name, Object: "model"})
	}

	payload, err := sonic.Marshal(list)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// handleProxy is the request pipeline: route, rewrite, transform, forward
// with retries, and stream or buffer the response back, emitting one audit
// record on every exit path after the method check (a 405 is not audited).
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request, dialect types.Dialect) {
	start := time.Now()
	rec := logging.Record{
		RequestID: uuid.NewString(),
		ClientIP:  clientIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
	}

	fail := func(perr *types.ProxyError) {
		rec.ErrorKind = perr.Kind
		rec.Duration = time.Since(start)
		types.WriteError(w, dialect, perr)
		s.audit.Log(rec)
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		fail(types.BadRequest("failed to read request body: %v", err))
		return
	}
	rec.BytesIn = int64(len(body))
	if s.cfg.Logging.BodyIncluded() {
		rec.Body = body
	}
	if s.cfg.Logging.HeadersIncluded() {
		rec.Headers = r.Header.Clone()
	}

	if !gjson.ValidBytes(body) {
		fail(types.BadRequest("request body is not valid JSON"))
		return
	}
	model := gjson.GetBytes(body, "model")
	if !model.Exists() || model.Type != gjson.String {
		fail(types.BadRequest("request body must contain a string \"model\" field"))
		return
	}
	rec.Model = model.String()

	// The pre-rewrite model name is the sole router input; no retry ever
	// re-resolves the route.
	route, ok := s.router.Resolve(model.String())
	if !ok {
		fail(types.NotFound(model.String()))
		return
	}
	rec.BackendModel = route.BackendModel()
	rec.UpstreamURL = route.Endpoint

	// target_model rewriting runs before the request pipeline so configured
	// rules see the post-rewrite body.
	if route.TargetModel != "" {
		if body, err = transform.RewriteModel(body, route.TargetModel); err != nil {
			fail(types.Transform("model rewrite: %v", err))
			return
		}
	}

	body, err = route.Request.Run(body)
	if err != nil {
		// A request-side transform failure prevents any upstream call.
		fail(types.Transform("request transform: %v", err))
		return
	}

	headers := transform.ApplyHeaders(r.Header, route.Headers, route.Backend, route.APIKey)

	// The body is already materialized (routing needs it parsed), so every
	// attempt replays the same bytes; with max_attempts=1 the single reader
	// passes through the client without ever being rewound.
	attemptNo := 0
	attempt := func() (*http.Response, error) {
		attemptNo++
		s.audit.LogUpstreamAttempt(route.Name, route.Endpoint, attemptNo)
		req, reqErr := http.NewRequestWithContext(r.Context(), http.MethodPost, route.Endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header = headers.Clone()
		req.ContentLength = int64(len(body))
		return route.Client.Do(req)
	}

	resp, attempts, perr := route.Retry.Execute(r.Context(), attempt)
	rec.RetryCount = attempts

	if resp == nil {
		fail(perr)
		return
	}
	defer resp.Body.Close()
	rec.UpstreamStatus = resp.StatusCode
	if perr != nil {
		// Budget exhausted on a retryable status: the last response is
		// proxied through verbatim below, and the record keeps the kind.
		rec.ErrorKind = perr.Kind
	}

	if isEventStream(resp) {
		fwd := &stream.Forwarder{Log: s.log}
		written, serr := fwd.Forward(r.Context(), w, resp.StatusCode, resp.Body, route.Response)
		rec.BytesOut = written
		if serr != nil {
			rec.ErrorKind = serr.Kind
		}
		rec.Duration = time.Since(start)
		s.audit.Log(rec)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(proxy.Classify(err))
		return
	}

	// Response-side transforms run on successful bodies only; failures are
	// logged and the untransformed bytes are forwarded rather than breaking
	// the response.
	if resp.StatusCode < 300 && !route.Response.Empty() {
		if out, terr := route.Response.Run(respBody); terr != nil {
			s.log.Warn("response transform failed, forwarding untransformed body",
				zap.String("model", route.Name),
				zap.Error(terr),
			)
		} else {
			respBody = out
		}
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	n, _ := w.Write(respBody)
	rec.BytesOut = int64(n)
	rec.Duration = time.Since(start)
	s.audit.Log(rec)
}

func isEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}

// copyResponseHeaders forwards upstream headers minus the hop-by-hop and
// length-bearing ones the proxy re-derives.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Transfer-Encoding", "Connection", "Keep-Alive":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the peer
// address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
