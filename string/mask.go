package string

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Mask keeps the first half of s and replaces the rest with asterisks.
func Mask(s string) string {
	switch l := len(s); l {
	case 0:
		return s
	case 1:
		return "*"
	default:
		return s[:l/2] + strings.Repeat("*", l-l/2)
	}
}

// MaskURL hides the credentials and query values of a connection URL so it
// can be logged. Scheme, host and path are kept.
func MaskURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse URL")
	}
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	if u.User != nil {
		sb.WriteString(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			sb.WriteString(":")
			sb.WriteString(strings.Repeat("*", max(len(pass), 4)))
		}
		sb.WriteString("@")
	}
	sb.WriteString(u.Host)
	sb.WriteString(u.Path)
	query := u.Query()
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + Mask(strings.Join(query[k], ","))
		}
		sb.WriteString("?")
		sb.WriteString(strings.Join(parts, "&"))
	}
	return sb.String(), nil
}
