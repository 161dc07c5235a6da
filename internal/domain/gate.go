// Package domain validates scanned URLs against allow and block lists.
package domain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL is returned when the candidate cannot be parsed as a URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrNoDomain is returned when the URL has no domain name host.
	ErrNoDomain = errors.New("URL has no valid domain")

	// ErrBlocked is returned when the domain matches a block list entry.
	ErrBlocked = errors.New("domain is blocked")

	// ErrNotAllowlisted is returned when an allow list is configured and the
	// domain matches none of its entries.
	ErrNotAllowlisted = errors.New("domain is not in the allowlist")
)

// Error reports why a URL was rejected. Kind is one of the package sentinels.
type Error struct {
	Kind   error
	Domain string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrInvalidURL:
		return "Invalid URL format"
	case ErrNoDomain:
		return "URL has no valid domain"
	case ErrBlocked:
		return fmt.Sprintf("Domain '%s' is blocked.", e.Domain)
	case ErrNotAllowlisted:
		return fmt.Sprintf("Domain '%s' is not in your allowlist.", e.Domain)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// Check validates raw against the lists and returns the lowercase host.
//
// A scheme-less candidate is treated as https. Matching is by case-insensitive
// substring against the domain; the block list is consulted first,
// and an empty allow list accepts everything. Blank list entries are ignored.
func Check(raw string, allow, block []string) (string, error) {
	full := withScheme(raw)

	u, err := url.Parse(full)
	if err != nil {
		return "", &Error{Kind: ErrInvalidURL}
	}

	hostname := u.Hostname()
	if hostname == "" && requiresHost(u.Scheme) {
		return "", &Error{Kind: ErrInvalidURL}
	}
	if hostname == "" || net.ParseIP(hostname) != nil {
		return "", &Error{Kind: ErrNoDomain}
	}
	// Without IP literals the domain and the host name coincide.
	domain := strings.ToLower(hostname)

	if matches(domain, normalizeList(block)) {
		return "", &Error{Kind: ErrBlocked, Domain: domain}
	}

	allowed := normalizeList(allow)
	if len(allowed) > 0 && !matches(domain, allowed) {
		return "", &Error{Kind: ErrNotAllowlisted, Domain: domain}
	}

	return domain, nil
}

func withScheme(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

// requiresHost reports whether scheme is one whose URLs cannot be parsed
// without a host.
func requiresHost(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https", "ws", "wss", "ftp":
		return true
	}
	return false
}

func normalizeList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, entry := range list {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func matches(domain string, list []string) bool {
	for _, entry := range list {
		if strings.Contains(domain, entry) {
			return true
		}
	}
	return false
}
