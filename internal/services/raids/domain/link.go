// Package domain holds the raid lifecycle rules: recognized post links, slot
// amounts, status enums, and the fixed time windows the sweeps operate on.
package domain

import (
	"regexp"
	"strings"
)

var postLinkPattern = regexp.MustCompile(`^https://(twitter\.com|x\.com)/[A-Za-z0-9_]+/status/([0-9]+)`)

// ValidPostLink reports whether link matches the recognized external
// post-link shape, https://(twitter.com|x.com)/<handle>/status/<digits>.
func ValidPostLink(link string) bool {
	return postLinkPattern.MatchString(strings.TrimSpace(link))
}

// ExternalPostID extracts the numeric status id from a post link. It returns
// false when the link does not match the recognized shape.
func ExternalPostID(link string) (string, bool) {
	match := postLinkPattern.FindStringSubmatch(strings.TrimSpace(link))
	if match == nil {
		return "", false
	}
	return match[2], true
}
