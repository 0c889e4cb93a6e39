package useragent

import (
	"strings"
	"sync"
	"testing"
)

func TestPool_Sequential(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"})
	for _, want := range []string{"A", "B", "C", "A"} {
		if got := p.Sequential(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestPool_Default(t *testing.T) {
	p := NewPool(nil)
	if len(p.All()) != len(DefaultPool) {
		t.Errorf("expected pool length %d, got %d", len(DefaultPool), len(p.All()))
	}
	if got := p.Sequential(); got != DefaultPool[0] {
		t.Errorf("expected %s, got %s", DefaultPool[0], got)
	}
}

func TestPool_Random(t *testing.T) {
	p := NewPool([]string{"A", "B"})
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[p.Random()] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("expected both entries to be returned, got %v", seen)
	}
}

func TestPool_CopiesInput(t *testing.T) {
	in := []string{"A"}
	p := NewPool(in)
	in[0] = "mutated"
	if got := p.Sequential(); got != "A" {
		t.Errorf("expected pool to be isolated from caller slice, got %s", got)
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Sequential() == "" || p.Random() == "" {
				t.Error("expected non-empty user agent")
			}
		}()
	}
	wg.Wait()
}

func TestForBrowser(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		exclude string
	}{
		{"chrome", "Chrome/", ""},
		{"Firefox", "Firefox/", "Chrome/"},
		{"safari", "Safari/", "Chrome/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uas := ForBrowser(tt.name)
			if len(uas) == 0 {
				t.Fatal("expected at least one user agent")
			}
			for _, ua := range uas {
				if !strings.Contains(ua, tt.want) {
					t.Errorf("%q does not contain %q", ua, tt.want)
				}
				if tt.exclude != "" && strings.Contains(ua, tt.exclude) {
					t.Errorf("%q should not contain %q", ua, tt.exclude)
				}
			}
		})
	}

	if got := ForBrowser("go"); len(got) != len(DefaultPool) {
		t.Errorf("expected full pool for unknown browser, got %d", len(got))
	}
}
