package upstream

import (
	"bytes"
)

// Verdict tags the interpretation of one upstream exchange. The wire protocol
// gives no reliable way to tell a ban from a malformed payload, so the
// boundary between the two is configuration, not code (see ClassifierConfig).
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictBanned
	VerdictMalformed
	VerdictNetwork
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictBanned:
		return "banned"
	case VerdictMalformed:
		return "malformed"
	case VerdictNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ClassifierConfig decides which responses count as an explicit ban.
type ClassifierConfig struct {
	BanStatusCodes []int    // e.g. 403, 429
	BanBodyMarkers []string // substrings in a 200 body that mean "blocked"
}

// Classifier maps raw HTTP responses to verdicts.
type Classifier struct {
	banStatus map[int]bool
	markers   [][]byte
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	c := &Classifier{banStatus: make(map[int]bool, len(cfg.BanStatusCodes))}
	for _, code := range cfg.BanStatusCodes {
		c.banStatus[code] = true
	}
	for _, m := range cfg.BanBodyMarkers {
		if m != "" {
			c.markers = append(c.markers, []byte(m))
		}
	}
	return c
}

// Classify inspects status and body before any JSON decoding is attempted.
// Returning VerdictOK here only means "not an obvious ban"; the decoder may
// still find the payload malformed.
func (c *Classifier) Classify(statusCode int, body []byte) Verdict {
	if c.banStatus[statusCode] {
		return VerdictBanned
	}
	if statusCode < 200 || statusCode >= 300 {
		return VerdictMalformed
	}
	for _, m := range c.markers {
		if bytes.Contains(body, m) {
			return VerdictBanned
		}
	}
	return VerdictOK
}
