// Package bypass recognizes responses where the upstream platform, or a WAF
// in front of the tool gateway, blocked or challenged the call instead of
// answering it.
package bypass

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/FranksOps/notewatch/internal/extract"
)

// Signal is everything a detector may inspect about one bridge response.
// Payload is the decoded JSON body when there was one.
type Signal struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Payload    any
}

// Detection names the protection that fired. Retryable detections are
// transient throttles; the rest need a human (captcha, login, ban).
type Detection struct {
	Source    string
	Retryable bool
}

// Detector examines a signal and reports a detection when it recognizes one.
type Detector func(sig *Signal) (Detection, bool)

// DefaultDetectors returns the standard list of detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectRateLimit,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectVerification,
	}
}

// Analyze runs sig through detectors and returns the first detection.
func Analyze(sig *Signal, detectors []Detector) (Detection, bool) {
	if sig == nil {
		return Detection{}, false
	}
	for _, d := range detectors {
		if det, ok := d(sig); ok {
			return det, true
		}
	}
	return Detection{}, false
}

func header(headers map[string][]string, key string) string {
	return http.Header(headers).Get(key)
}

// wafRule describes a block page by status, Server header and body markers.
type wafRule struct {
	source   string
	statuses []int
	servers  []string
	headers  []string
	markers  [][]byte
	// allMarkers requires every marker instead of any.
	allMarkers bool
}

func (r wafRule) match(sig *Signal) (Detection, bool) {
	statusOK := false
	for _, s := range r.statuses {
		if sig.StatusCode == s {
			statusOK = true
			break
		}
	}
	if !statusOK {
		return Detection{}, false
	}

	hit := Detection{Source: r.source}
	server := strings.ToLower(header(sig.Headers, "Server"))
	for _, s := range r.servers {
		if strings.Contains(server, s) {
			return hit, true
		}
	}
	for _, h := range r.headers {
		if header(sig.Headers, h) != "" {
			return hit, true
		}
	}

	if len(r.markers) == 0 {
		return Detection{}, false
	}
	found := 0
	for _, m := range r.markers {
		if bytes.Contains(sig.Body, m) {
			found++
			if !r.allMarkers {
				return hit, true
			}
		}
	}
	if r.allMarkers && found == len(r.markers) {
		return hit, true
	}
	return Detection{}, false
}

var (
	cloudflareRule = wafRule{
		source:   "Cloudflare",
		statuses: []int{http.StatusForbidden, http.StatusServiceUnavailable},
		servers:  []string{"cloudflare"},
		markers: [][]byte{
			[]byte("cf-browser-verification"),
			[]byte("cloudflare-nginx"),
			[]byte("cf-turnstile"),
			[]byte("Attention Required! | Cloudflare"),
		},
	}
	akamaiRule = wafRule{
		source:     "Akamai",
		statuses:   []int{http.StatusForbidden},
		servers:    []string{"akamai"},
		markers:    [][]byte{[]byte("Reference #"), []byte("Access Denied")},
		allMarkers: true,
	}
	dataDomeRule = wafRule{
		source:   "DataDome",
		statuses: []int{http.StatusForbidden},
		servers:  []string{"datadome"},
		headers:  []string{"X-DataDome", "X-DataDome-Response"},
		markers:  [][]byte{[]byte("geo.captcha-delivery.com"), []byte("datadome")},
	}
	perimeterXRule = wafRule{
		source:   "PerimeterX",
		statuses: []int{http.StatusForbidden},
		headers:  []string{"X-Px-Captcha"},
		markers: [][]byte{
			[]byte("client.perimeterx.net"),
			[]byte("px-captcha"),
			[]byte("_pxBlock"),
		},
	}
)

func detectCloudflare(sig *Signal) (Detection, bool) { return cloudflareRule.match(sig) }
func detectAkamai(sig *Signal) (Detection, bool)     { return akamaiRule.match(sig) }
func detectDataDome(sig *Signal) (Detection, bool)   { return dataDomeRule.match(sig) }
func detectPerimeterX(sig *Signal) (Detection, bool) { return perimeterXRule.match(sig) }

// detectRateLimit flags plain HTTP throttling.
func detectRateLimit(sig *Signal) (Detection, bool) {
	if sig.StatusCode == http.StatusTooManyRequests {
		return Detection{Source: "RateLimit", Retryable: true}, true
	}
	return Detection{}, false
}

// verificationCodes are platform error codes for captcha and risk-control
// interstitials.
var verificationCodes = map[string]bool{
	"461":    true,
	"471":    true,
	"300011": true,
	"300012": true,
	"300013": true,
}

var verificationWords = []string{
	"captcha",
	"verify",
	"verification",
	"验证",
	"安全限制",
	"账号异常",
	"访问频次异常",
}

// detectVerification inspects a JSON payload's code and msg fields for a
// captcha or account risk interstitial returned as a normal 200 response.
func detectVerification(sig *Signal) (Detection, bool) {
	obj, ok := sig.Payload.(*extract.Object)
	if !ok {
		return Detection{}, false
	}

	var code any
	for _, k := range []string{"code", "status_code"} {
		if v := obj.Get(k); v != nil {
			code = v
			break
		}
	}
	if c, ok := code.(interface{ String() string }); ok && verificationCodes[c.String()] {
		return Detection{Source: "Verification"}, true
	}
	if s, ok := code.(string); ok && verificationCodes[s] {
		return Detection{Source: "Verification"}, true
	}

	if success, present := obj.Lookup("success"); present && success == true {
		return Detection{}, false
	}
	for _, k := range []string{"msg", "message", "error"} {
		msg, ok := obj.Get(k).(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(msg)
		for _, w := range verificationWords {
			if strings.Contains(lower, w) {
				return Detection{Source: "Verification"}, true
			}
		}
	}
	return Detection{}, false
}
