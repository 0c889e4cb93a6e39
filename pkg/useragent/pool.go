// Package useragent supplies browser User-Agent strings that agree with the
// TLS fingerprint the bridge presents.
package useragent

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync/atomic"
)

// DefaultPool is a set of current desktop browser User-Agents.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 18_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Mobile/15E148 Safari/604.1",
}

// ForBrowser returns the DefaultPool entries of one browser family
// ("chrome", "firefox" or "safari"). Any other name yields the whole pool.
func ForBrowser(name string) []string {
	var match func(ua string) bool
	switch strings.ToLower(name) {
	case "chrome":
		match = func(ua string) bool { return strings.Contains(ua, "Chrome/") }
	case "firefox":
		match = func(ua string) bool { return strings.Contains(ua, "Firefox/") }
	case "safari":
		match = func(ua string) bool {
			return strings.Contains(ua, "Safari/") && !strings.Contains(ua, "Chrome/")
		}
	default:
		return append([]string(nil), DefaultPool...)
	}

	var out []string
	for _, ua := range DefaultPool {
		if match(ua) {
			out = append(out, ua)
		}
	}
	return out
}

// Pool hands out User-Agents. It is safe for concurrent use.
type Pool struct {
	uas     []string
	counter atomic.Uint64
}

// NewPool creates a pool over uas, or DefaultPool when uas is empty.
func NewPool(uas []string) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	return &Pool{uas: append([]string(nil), uas...)}
}

// Sequential returns the next User-Agent round robin.
func (p *Pool) Sequential() string {
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Random returns a uniformly chosen User-Agent.
func (p *Pool) Random() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.Sequential()
	}
	return p.uas[n.Int64()]
}

// All returns a copy of the pool's User-Agents.
func (p *Pool) All() []string {
	return append([]string(nil), p.uas...)
}
