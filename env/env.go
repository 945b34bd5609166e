package env

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// Line is a single KEY=value assignment from an env file.
type Line struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseFile parses a dotenv style file. A missing file yields no lines.
func ParseFile(filename string) ([]Line, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []Line{}, nil
		}
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	lines, err := Parse(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	return lines, nil
}

// Parse reads KEY=value lines. Blank lines and lines starting with # are
// skipped, an optional "export " prefix is dropped and matching single or
// double quotes around the value are removed. Values may reference earlier
// keys as ${KEY} or ${KEY:-default}, and the process environment as
// ${env:KEY}. Unresolved references are kept verbatim.
func Parse(buf []byte) ([]Line, error) {
	lines := []Line{}
	seen := make(map[string]string)
	for i, raw := range strings.Split(string(buf), "\n") {
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimPrefix(text, "export ")
		key, val, ok := strings.Cut(text, "=")
		key = strings.TrimSpace(key)
		if !ok || !validKey(key) {
			return nil, errors.Newf("line %d: expected KEY=value", i+1)
		}
		val = strings.TrimSpace(val)
		quoted := len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\''
		val = dequote(val)
		if !quoted {
			val = interpolate(val, seen)
		}
		seen[key] = val
		lines = append(lines, Line{Key: key, Val: val})
	}
	return lines, nil
}

// ToMap collapses lines into a map; later assignments win.
func ToMap(lines []Line) map[string]string {
	m := make(map[string]string, len(lines))
	for _, l := range lines {
		m[l.Key] = l.Val
	}
	return m
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func interpolate(s string, vars map[string]string) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		sb.WriteString(s[:start])
		sb.WriteString(resolve(s[start:end+1], s[start+2:end], vars))
		s = s[end+1:]
	}
	sb.WriteString(s)
	return sb.String()
}

func resolve(ref, inner string, vars map[string]string) string {
	name, def, hasDefault := strings.Cut(inner, ":-")
	var val string
	if envName, ok := strings.CutPrefix(name, "env:"); ok {
		val = os.Getenv(envName)
	} else {
		val = vars[name]
	}
	switch {
	case val != "":
		return val
	case hasDefault:
		return def
	default:
		return ref
	}
}
