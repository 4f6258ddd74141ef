package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// ErrEmptyReference is returned for an element with a blank address.
var ErrEmptyReference = errors.New("empty reference")

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// AssetReference is a sub-resource address resolved against the page base.
type AssetReference struct {
	Source   string
	Resolved string
}

// ResolveReference joins a possibly relative address found in markup with
// the page base URL. Only http and https results are accepted.
func ResolveReference(base *url.URL, raw string) (AssetReference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AssetReference{}, ErrEmptyReference
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return AssetReference{}, fmt.Errorf("parse reference %q: %w", trimmed, err)
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return AssetReference{}, fmt.Errorf("unsupported scheme in %q", trimmed)
	}
	if resolved.Host == "" {
		return AssetReference{}, fmt.Errorf("reference %q has no host", trimmed)
	}
	resolved.Fragment = ""
	return AssetReference{Source: raw, Resolved: resolved.String()}, nil
}

// ResolveLink joins an anchor address with the page base URL. Unlike
// ResolveReference it accepts any scheme, so mailto:, tel: and javascript:
// addresses come back unchanged. Fragments are dropped from http(s) results.
func ResolveLink(base *url.URL, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyReference
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", trimmed, err)
	}
	if ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https" {
		return trimmed, nil
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme == "http" || resolved.Scheme == "https" {
		resolved.Fragment = ""
	}
	return resolved.String(), nil
}

// Fingerprint is the content hash of an absolute address.
func Fingerprint(address string) string {
	sum := sha256.Sum256([]byte(address))
	return hex.EncodeToString(sum[:])
}

// AssetFilename derives the stored filename for an address: a short hash
// prefix of the full address plus its sanitised basename, so two addresses
// sharing a basename never collide.
func AssetFilename(address string) string {
	base := ""
	if u, err := url.Parse(address); err == nil {
		base = path.Base(u.Path)
	}
	base = invalidFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "asset"
	}
	return Fingerprint(address)[:8] + "_" + base
}

// ContainsFold reports whether needle occurs in haystack, ignoring case.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
