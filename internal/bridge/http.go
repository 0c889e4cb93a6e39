package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/notewatch/internal/bypass"
	"github.com/FranksOps/notewatch/internal/extract"
	"github.com/FranksOps/notewatch/internal/fingerprint"
	"github.com/FranksOps/notewatch/pkg/httpclient"
	"github.com/FranksOps/notewatch/pkg/proxy"
	"github.com/FranksOps/notewatch/pkg/retry"
	"github.com/FranksOps/notewatch/pkg/useragent"
)

// HTTPConfig configures the tool gateway bridge.
type HTTPConfig struct {
	BaseURL     string
	Token       string
	Fingerprint fingerprint.Profile
	ProxyURL    string
	// Proxies rotates calls across a proxy list and takes precedence over
	// ProxyURL when it holds any entry.
	Proxies            *proxy.Pool
	InsecureSkipVerify bool
	// UserAgents overrides the User-Agent pool. When empty, a browser
	// fingerprint gets User-Agents of the same browser family.
	UserAgents []string
	// Timeout caps a single HTTP exchange; per-call deadlines from the
	// caller's context still apply.
	Timeout   time.Duration
	Detectors []bypass.Detector
}

// HTTPBridge calls a tool gateway exposing GET /health and
// POST /call {"tool": ..., "args": {...}}.
type HTTPBridge struct {
	base      string
	client    *httpclient.Client
	detectors []bypass.Detector
	logger    *slog.Logger
}

var _ Bridge = (*HTTPBridge)(nil)

type callRequest struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

// NewHTTP creates an HTTPBridge.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) (*HTTPBridge, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge: gateway base url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}

	opts := fingerprint.Options{
		ProxyURL:           cfg.ProxyURL,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	rotate := cfg.Proxies != nil && cfg.Proxies.Len() > 0
	if rotate {
		opts.Proxy = cfg.Proxies.ProxyFunc
	}
	transport, err := fingerprint.Transport(cfg.Fingerprint, opts)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to setup transport: %w", err)
	}
	if rotate {
		transport = cfg.Proxies.Wrap(transport)
	}

	uas := cfg.UserAgents
	if len(uas) == 0 && cfg.Fingerprint != "" && cfg.Fingerprint != fingerprint.ProfileGo {
		uas = useragent.ForBrowser(string(cfg.Fingerprint))
	}
	var userAgent func() string
	if len(uas) > 0 {
		userAgent = useragent.NewPool(uas).Random
	}

	headers := map[string]string{}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:   cfg.Timeout,
		Headers:   headers,
		UserAgent: userAgent,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to create client: %w", err)
	}

	return &HTTPBridge{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
		detectors: cfg.Detectors,
		logger:    logger,
	}, nil
}

// Ready checks the gateway health endpoint.
func (b *HTTPBridge) Ready(ctx context.Context) error {
	resp, err := b.client.Get(ctx, b.base+"/health")
	if err != nil {
		return &Error{Op: "ready", Msg: fmt.Sprintf("gateway unreachable: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: "ready", Msg: fmt.Sprintf("gateway unhealthy: status %d: %s", resp.StatusCode, snippet(resp.Body))}
	}
	return nil
}

// Search calls the search tool for keyword.
func (b *HTTPBridge) Search(ctx context.Context, keyword string) (any, error) {
	return b.call(ctx, "search", SearchTool, searchArgs(keyword))
}

// Detail calls the detail tool for one feed item.
func (b *HTTPBridge) Detail(ctx context.Context, feedID, xsecToken string) (any, error) {
	return b.call(ctx, "detail", DetailTool, detailArgs(feedID, xsecToken))
}

func (b *HTTPBridge) call(ctx context.Context, op, tool string, args []Arg) (any, error) {
	req := callRequest{Tool: tool, Args: make(map[string]string, len(args))}
	for _, a := range args {
		req.Args[a.Name] = a.Value
	}

	resp, err := b.client.PostJSON(ctx, b.base+"/call", req)
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "timed out"
		}
		return nil, &Error{Op: op, Msg: msg, Err: err}
	}

	payload, unwrapErr := unwrapToolResult(op, decodeOutput(string(resp.Body)))
	sig := &bypass.Signal{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
		Payload:    payload,
	}
	if det, blocked := bypass.Analyze(sig, b.detectors); blocked {
		b.logger.WarnContext(ctx, "bridge call blocked", "op", op, "source", det.Source, "status", resp.StatusCode)
		berr := &Error{Op: op, Msg: "blocked by " + det.Source, Blocked: det.Source}
		if det.Retryable {
			return nil, berr
		}
		return nil, retry.Permanent(berr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: op, Msg: fmt.Sprintf("gateway status %d: %s", resp.StatusCode, snippet(resp.Body))}
	}
	if unwrapErr != nil {
		return nil, unwrapErr
	}
	return payload, nil
}

// unwrapToolResult unpacks an MCP-style result
// {"content": [{"type": "text", "text": "..."}], "isError": bool}. Any other
// payload is returned as is. On a tool error the wrapper comes back along
// with the error so detectors can still inspect it.
func unwrapToolResult(op string, payload any) (any, error) {
	obj, ok := payload.(*extract.Object)
	if !ok {
		return payload, nil
	}
	content, ok := obj.Get("content").([]any)
	if !ok {
		return payload, nil
	}

	var texts []string
	for _, item := range content {
		part, ok := item.(*extract.Object)
		if !ok {
			continue
		}
		if text, ok := part.Get("text").(string); ok {
			texts = append(texts, text)
		}
	}
	joined := strings.Join(texts, "\n")

	if isErr, _ := obj.Get("isError").(bool); isErr {
		msg := strings.TrimSpace(joined)
		if msg == "" {
			msg = "tool call failed"
		}
		return payload, &Error{Op: op, Msg: msg}
	}
	if len(texts) == 0 {
		return payload, nil
	}
	return decodeOutput(joined), nil
}

func snippet(body []byte) string {
	s := []rune(strings.TrimSpace(string(body)))
	if len(s) == 0 {
		return "empty body"
	}
	if len(s) > 200 {
		return string(s[:200]) + "..."
	}
	return string(s)
}
