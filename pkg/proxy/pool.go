// Package proxy rotates bridge traffic across a list of upstream proxies and
// benches the ones that keep failing.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrExhausted is returned when every proxy is cooling down.
var ErrExhausted = errors.New("proxy: all proxies are cooling down")

// endpoint is one proxy with its health counters.
type endpoint struct {
	url           *url.URL
	failures      int
	successes     int
	disabledUntil time.Time
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures before a proxy is benched.
	MaxFailures int
	// Cooldown is how long a benched proxy stays out of rotation.
	Cooldown time.Duration
}

// Pool hands out proxies round robin.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	next        int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool creates an empty pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile reads proxies from path, one URL per line. Blank lines and
// lines starting with '#' are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open list: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: read list: %w", err)
	}
	return p.Add(urls...)
}

// Add parses raw URLs and appends them. A missing scheme means http.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*endpoint, 0, len(raw))
	for _, r := range raw {
		if !strings.Contains(r, "://") {
			r = "http://" + r
		}
		u, err := url.Parse(r)
		if err != nil {
			return fmt.Errorf("proxy: invalid url %q: %w", r, err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: invalid url %q: missing host", r)
		}
		parsed = append(parsed, &endpoint{url: u})
	}

	p.mu.Lock()
	p.endpoints = append(p.endpoints, parsed...)
	p.mu.Unlock()
	return nil
}

// Len returns the number of proxies in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next proxy not cooling down, or ErrExhausted.
func (p *Pool) Next() (*url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	if n == 0 {
		return nil, ErrExhausted
	}
	now := p.now()
	for i := 0; i < n; i++ {
		ep := p.endpoints[p.next]
		p.next = (p.next + 1) % n

		if !ep.disabledUntil.IsZero() {
			if now.Before(ep.disabledUntil) {
				continue
			}
			ep.disabledUntil = time.Time{}
			ep.failures = 0
		}
		return ep.url, nil
	}
	return nil, ErrExhausted
}

// MarkSuccess credits u with a successful exchange.
func (p *Pool) MarkSuccess(u *url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep := p.find(u); ep != nil {
		ep.successes++
		if ep.failures > 0 {
			ep.failures--
		}
	}
}

// MarkFailure records a failed exchange through u and benches it once it
// reaches MaxFailures.
func (p *Pool) MarkFailure(u *url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep := p.find(u)
	if ep == nil {
		return
	}
	ep.failures++
	if ep.failures >= p.maxFailures {
		ep.disabledUntil = p.now().Add(p.cooldown)
	}
}

// must be called with p.mu held
func (p *Pool) find(u *url.URL) *endpoint {
	if u == nil {
		return nil
	}
	target := u.String()
	for _, ep := range p.endpoints {
		if ep.url.String() == target {
			return ep
		}
	}
	return nil
}

type ctxKey struct{}

// ProxyFunc is meant for http.Transport.Proxy. It routes a request through
// the proxy Wrap chose for it.
func (p *Pool) ProxyFunc(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(ctxKey{}).(*url.URL); ok {
		return u, nil
	}
	return nil, nil
}

// Wrap returns a RoundTripper that picks a proxy per request and feeds the
// outcome back into the pool. base must use ProxyFunc as its Proxy.
func (p *Pool) Wrap(base http.RoundTripper) http.RoundTripper {
	return &roundTripper{pool: p, base: base}
}

type roundTripper struct {
	pool *Pool
	base http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := rt.pool.Next()
	if err != nil {
		return nil, err
	}
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, u))

	resp, err := rt.base.RoundTrip(req)
	if err != nil || resp.StatusCode == http.StatusProxyAuthRequired {
		rt.pool.MarkFailure(u)
		return resp, err
	}
	rt.pool.MarkSuccess(u)
	return resp, nil
}
