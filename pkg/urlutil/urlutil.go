package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Canonicalize applies a deterministic RFC-3986-ish normalization to a URL so that
// equivalent spellings collapse onto a single representation used everywhere downstream.
//
// Rules:
//   - Scheme and host are lowercased.
//   - Default ports (80 for http, 443 for https) are stripped.
//   - Path `.`/`..` segments are collapsed; a trailing slash is preserved if present.
//   - Query pairs are sorted lexicographically by key then value.
//   - Fragments are dropped.
//   - Schemes outside {http, https} are rejected.
//
// Properties: pure, deterministic, idempotent, context-free.
func Canonicalize(sourceUrl url.URL) (url.URL, error) {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	if canonical.Scheme != "http" && canonical.Scheme != "https" {
		return url.URL{}, fmt.Errorf("urlutil: unsupported scheme %q", sourceUrl.Scheme)
	}

	canonical.Host = lowerASCII(canonical.Host)
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	canonical.Path = cleanPath(canonical.Path)

	canonical.Fragment = ""
	canonical.RawFragment = ""

	canonical.RawQuery = sortedQuery(canonical.Query())
	canonical.ForceQuery = false

	return canonical, nil
}

// cleanPath collapses "." and ".." segments while preserving a trailing slash
// that was present on the input (root "/" is always preserved as-is).
func cleanPath(p string) string {
	if p == "" {
		return p
	}

	hadTrailingSlash := len(p) > 1 && strings.HasSuffix(p, "/")
	cleaned := path.Clean(p)

	if hadTrailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}

// sortedQuery re-encodes query parameters ordered lexicographically by key then value.
// Returns "" when there are no parameters.
func sortedQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	first := true
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// lowerASCII converts ASCII characters to lowercase without allocating when unnecessary.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
