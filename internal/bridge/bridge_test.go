package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/notewatch/internal/extract"
	"github.com/FranksOps/notewatch/internal/fingerprint"
	"github.com/FranksOps/notewatch/pkg/proxy"
	"github.com/FranksOps/notewatch/pkg/retry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpr(t *testing.T) {
	got := Expr(DetailTool, detailArgs(`f"1`, `t\k`)...)
	want := `xiaohongshu.get_feed_detail(feed_id: "f\"1", xsec_token: "t\\k")`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if got := Expr(SearchTool, searchArgs("餐饮 POS")...); got != `xiaohongshu.search_feeds(keyword: "餐饮 POS")` {
		t.Errorf("unexpected search expr %s", got)
	}
}

func TestDecodeOutput(t *testing.T) {
	v := decodeOutput("fetching...\n{\"feeds\": []}")
	obj, ok := v.(*extract.Object)
	if !ok || obj.Len() != 1 {
		t.Fatalf("expected decoded object, got %#v", v)
	}

	v = decodeOutput("nothing structured here")
	obj, ok = v.(*extract.Object)
	if !ok || obj.Get(RawOutputKey) != "nothing structured here" {
		t.Errorf("expected raw_output wrapper, got %#v", v)
	}
}

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommandBridge(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")

	doctor := writeScript(t, dir, "agent-reach", "exit 0\n")
	caller := writeScript(t, dir, "mcporter", `printf '%s\n' "$@" > `+argsFile+`
echo "[mcporter] calling"
echo '{"data": {"items": [{"id": "f1"}]}}'
`)

	b := NewCommand(CommandConfig{DoctorBin: doctor, CallerBin: caller}, quietLogger())
	ctx := context.Background()

	if err := b.Ready(ctx); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}

	payload, err := b.Search(ctx, `say "hi"`)
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	if _, ok := payload.(*extract.Object); !ok {
		t.Errorf("expected object payload, got %T", payload)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := "call\nxiaohongshu.search_feeds(keyword: \"say \\\"hi\\\"\")\n"
	if string(args) != want {
		t.Errorf("expected args %q, got %q", want, args)
	}
}

func TestCommandBridge_Failures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	ctx := context.Background()

	failing := writeScript(t, dir, "fail-stderr", "echo 'login required' >&2\nexit 3\n")
	b := NewCommand(CommandConfig{DoctorBin: failing, CallerBin: failing}, quietLogger())

	_, err := b.Detail(ctx, "f1", "tok")
	var berr *Error
	if !errors.As(err, &berr) || berr.Msg != "login required" || berr.Op != "detail" {
		t.Errorf("expected stderr message, got %v", err)
	}

	if err := b.Ready(ctx); err == nil || !strings.Contains(err.Error(), "doctor failed: login required") {
		t.Errorf("expected doctor failure, got %v", err)
	}

	stdoutOnly := writeScript(t, dir, "fail-stdout", "echo 'quota exceeded'\nexit 1\n")
	b = NewCommand(CommandConfig{CallerBin: stdoutOnly}, quietLogger())
	if _, err := b.Search(ctx, "k"); err == nil || err.Error() != "search: quota exceeded" {
		t.Errorf("expected stdout fallback, got %v", err)
	}

	silent := writeScript(t, dir, "fail-silent", "exit 1\n")
	b = NewCommand(CommandConfig{CallerBin: silent}, quietLogger())
	if _, err := b.Search(ctx, "k"); err == nil || err.Error() != "search: command failed" {
		t.Errorf("expected generic failure, got %v", err)
	}

	slow := writeScript(t, dir, "slow", "exec sleep 5\n")
	b = NewCommand(CommandConfig{CallerBin: slow}, quietLogger())
	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := b.Search(tctx, "k"); err == nil || err.Error() != "search: timed out" {
		t.Errorf("expected timeout, got %v", err)
	}

	b = NewCommand(CommandConfig{
		DoctorBin: filepath.Join(dir, "missing-doctor"),
		CallerBin: filepath.Join(dir, "missing-caller"),
	}, quietLogger())
	if err := b.Ready(ctx); err == nil || !strings.Contains(err.Error(), "is not installed") {
		t.Errorf("expected not installed error, got %v", err)
	}
	if _, err := b.Search(ctx, "k"); err == nil || !strings.Contains(err.Error(), "is not installed") {
		t.Errorf("expected not installed error, got %v", err)
	}
}

func newGateway(t *testing.T, handler func(w http.ResponseWriter, req callRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/call":
			var req callRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			handler(w, req)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestHTTPBridge(t *testing.T) {
	var got callRequest
	ts := newGateway(t, func(w http.ResponseWriter, req callRequest) {
		got = req
		switch req.Tool {
		case SearchTool:
			_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "{\"feeds\": [{\"id\": \"f1\"}]}"}]}`))
		case DetailTool:
			_, _ = w.Write([]byte(`{"data": {"note": {"title": "t"}}}`))
		}
	})
	defer ts.Close()

	b, err := NewHTTP(HTTPConfig{BaseURL: ts.URL + "/", Token: "secret"}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := b.Ready(ctx); err != nil {
		t.Fatalf("expected ready gateway, got %v", err)
	}

	payload, err := b.Search(ctx, "pos")
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	obj, ok := payload.(*extract.Object)
	if !ok {
		t.Fatalf("expected unwrapped object, got %T", payload)
	}
	if _, ok := obj.Lookup("feeds"); !ok {
		t.Errorf("expected tool text to be decoded, got keys %v", obj.Keys())
	}
	if got.Args[ArgKeyword] != "pos" {
		t.Errorf("expected keyword arg, got %+v", got)
	}

	if _, err := b.Detail(ctx, "f1", "tok"); err != nil {
		t.Fatalf("unexpected detail error: %v", err)
	}
	if got.Args[ArgFeedID] != "f1" || got.Args[ArgXsecToken] != "tok" {
		t.Errorf("expected detail args, got %+v", got)
	}
}

func TestHTTPBridge_Failures(t *testing.T) {
	ts := newGateway(t, func(w http.ResponseWriter, req callRequest) {
		switch req.Args[ArgKeyword] {
		case "throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		case "captcha":
			_, _ = w.Write([]byte(`{"code": 461, "msg": "need verification"}`))
		case "tool-error":
			_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "not logged in"}], "isError": true}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	})
	defer ts.Close()

	b, err := NewHTTP(HTTPConfig{BaseURL: ts.URL}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := b.Ready(ctx); err == nil {
		t.Errorf("expected unauthorized health check to fail")
	}

	_, err = b.Search(ctx, "throttled")
	var berr *Error
	if !errors.As(err, &berr) || berr.Blocked != "RateLimit" || retry.IsPermanent(err) {
		t.Errorf("expected retryable rate limit error, got %v", err)
	}

	_, err = b.Search(ctx, "captcha")
	if !errors.As(err, &berr) || berr.Blocked != "Verification" || !retry.IsPermanent(err) {
		t.Errorf("expected permanent verification error, got %v", err)
	}

	if _, err := b.Search(ctx, "tool-error"); err == nil || err.Error() != "search: not logged in" {
		t.Errorf("expected tool error, got %v", err)
	}

	if _, err := b.Search(ctx, "other"); err == nil || !strings.Contains(err.Error(), "gateway status 502: upstream down") {
		t.Errorf("expected gateway status error, got %v", err)
	}

	if _, err := NewHTTP(HTTPConfig{}, nil); err == nil {
		t.Errorf("expected missing base url error")
	}
}

func TestHTTPBridge_UserAgentFollowsFingerprint(t *testing.T) {
	var ua string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer ts.Close()

	b, err := NewHTTP(HTTPConfig{BaseURL: ts.URL, Fingerprint: fingerprint.ProfileFirefox}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Ready(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(ua, "Firefox/") {
		t.Errorf("expected a firefox user agent, got %q", ua)
	}

	b, _ = NewHTTP(HTTPConfig{BaseURL: ts.URL, UserAgents: []string{"notewatch-test"}}, quietLogger())
	_ = b.Ready(context.Background())
	if ua != "notewatch-test" {
		t.Errorf("expected configured user agent, got %q", ua)
	}
}

func TestHTTPBridge_ProxyRotation(t *testing.T) {
	// The test server plays the proxy: it sees absolute request URIs for
	// the unreachable gateway host.
	var hosts []string
	px := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts = append(hosts, r.Host)
		w.WriteHeader(http.StatusOK)
	}))
	defer px.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(px.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewHTTP(HTTPConfig{BaseURL: "http://gateway.invalid", Proxies: pool}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready through proxy, got %v", err)
	}
	if len(hosts) != 1 || hosts[0] != "gateway.invalid" {
		t.Errorf("expected request to be proxied, got %v", hosts)
	}
}
