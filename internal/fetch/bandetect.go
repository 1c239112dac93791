package fetch

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// maxBodyScanBytes caps how much of a response body the detector inspects.
// Ban walls announce themselves early; scanning megabytes buys nothing.
const maxBodyScanBytes = 256 * 1024

// Classification is the detector's verdict on one completed attempt.
type Classification struct {
	Blocked bool
	// Reason is the matched pattern or "status <code>".
	Reason string
}

// BanDetector classifies responses as clean or blocked using configured
// substring patterns and a blocked-status set. The pattern list is data, not
// code: operators extend it through configuration.
type BanDetector struct {
	patterns        [][]byte
	patternText     []string
	blockedStatuses map[int]struct{}
}

// DefaultBanPatterns are the substrings that reliably indicate an anti-bot
// wall rather than ordinary content.
func DefaultBanPatterns() []string {
	return []string{
		"captcha",
		"security check",
		"access denied",
		"ddos protection by cloudflare",
		"unusual traffic",
		"please verify you are a human",
		"access to this page has been denied",
		"your ip address has been temporarily blocked",
	}
}

// DefaultBlockedStatuses returns the status codes treated as bans.
func DefaultBlockedStatuses() []int {
	return []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable}
}

// NewBanDetector builds a detector from the given patterns and statuses.
// Empty slices fall back to the defaults; matching is case-insensitive.
func NewBanDetector(patterns []string, blockedStatuses []int) *BanDetector {
	if len(patterns) == 0 {
		patterns = DefaultBanPatterns()
	}
	if len(blockedStatuses) == 0 {
		blockedStatuses = DefaultBlockedStatuses()
	}
	d := &BanDetector{
		blockedStatuses: make(map[int]struct{}, len(blockedStatuses)),
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d.patterns = append(d.patterns, bytes.ToLower([]byte(p)))
		d.patternText = append(d.patternText, strings.ToLower(p))
	}
	for _, code := range blockedStatuses {
		d.blockedStatuses[code] = struct{}{}
	}
	return d
}

// Classify inspects the status code and body of a completed attempt. A body
// pattern match wins over the status so the reason names the actual wall.
func (d *BanDetector) Classify(statusCode int, body []byte) Classification {
	if len(body) > maxBodyScanBytes {
		body = body[:maxBodyScanBytes]
	}
	if len(body) > 0 && len(d.patterns) > 0 {
		lower := bytes.ToLower(body)
		for i, p := range d.patterns {
			if bytes.Contains(lower, p) {
				return Classification{Blocked: true, Reason: d.patternText[i]}
			}
		}
	}
	if _, ok := d.blockedStatuses[statusCode]; ok {
		return Classification{Blocked: true, Reason: fmt.Sprintf("status %d", statusCode)}
	}
	return Classification{}
}

// BlockedStatus reports whether the detector's policy treats code as a ban.
func (d *BanDetector) BlockedStatus(code int) bool {
	_, ok := d.blockedStatuses[code]
	return ok
}
