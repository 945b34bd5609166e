package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Args are the inputs of a cached call as they take part in its key.
// Positional values keep their order, Named values are sorted by name.
// Request scoped values such as a context or a database handle do not
// belong here.
type Args struct {
	Positional []any
	Named      map[string]any
}

// CacheArgs implements Arguments.
func (a Args) CacheArgs() Args { return a }

// Arguments is implemented by the argument type of a cached call.
type Arguments interface {
	CacheArgs() Args
}

// Keyer lets a value choose its own key segment.
type Keyer interface {
	CacheKey() string
}

// KeyStrategy derives the store key for a call named name.
type KeyStrategy func(name string, args Args) string

// CanonicalKey is the default KeyStrategy. It produces readable keys of the
// form name:pos1:pos2:k1=v1:k2=v2 where every segment is escaped so that
// distinct arguments never collide and no segment acts as a glob.
func CanonicalKey(name string, args Args) string { return Key(name, args) }

// HashedKey keeps the first positional argument readable, so prefix
// invalidation still works, and hashes the remainder. Use it for calls with
// large arguments.
func HashedKey(name string, args Args) string {
	if len(args.Positional) == 0 && len(args.Named) == 0 {
		return name
	}
	head := name
	rest := args
	if len(args.Positional) > 0 {
		head = name + ":" + segment(args.Positional[0])
		rest = Args{Positional: args.Positional[1:], Named: args.Named}
	}
	sum := xxhash.Sum64String(Key("", rest))
	return head + ":#" + strconv.FormatUint(sum, 16)
}

// Key builds the canonical key for name and args.
func Key(name string, args Args) string {
	var sb strings.Builder
	sb.WriteString(name)
	for _, v := range args.Positional {
		sb.WriteByte(':')
		sb.WriteString(segment(v))
	}
	if len(args.Named) > 0 {
		names := make([]string, 0, len(args.Named))
		for k := range args.Named {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			sb.WriteByte(':')
			sb.WriteString(escape(k))
			sb.WriteByte('=')
			sb.WriteString(segment(args.Named[k]))
		}
	}
	return sb.String()
}

// Prefix returns the glob matching every key that extends name and the
// given leading positional values.
func Prefix(name string, segments ...any) string {
	return Key(name, Args{Positional: segments}) + ":*"
}

var escaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"=", "%3D",
	"*", "%2A",
	"?", "%3F",
	"[", "%5B",
	"]", "%5D",
	`\`, "%5C",
)

func escape(s string) string { return escaper.Replace(s) }

func segment(v any) string { return escape(stringify(v)) }

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case Keyer:
		return x.CacheKey()
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case *string:
		if x == nil {
			return "nil"
		}
		return *x
	case *int:
		if x == nil {
			return "nil"
		}
		return strconv.Itoa(*x)
	case *int64:
		if x == nil {
			return "nil"
		}
		return strconv.FormatInt(*x, 10)
	case *bool:
		if x == nil {
			return "nil"
		}
		return strconv.FormatBool(*x)
	case fmt.Stringer:
		return x.String()
	case []string:
		return sequence(len(x), func(i int) string { return x[i] })
	case []int:
		return sequence(len(x), func(i int) string { return strconv.Itoa(x[i]) })
	case []int64:
		return sequence(len(x), func(i int) string { return strconv.FormatInt(x[i], 10) })
	case []any:
		return sequence(len(x), func(i int) string { return stringify(x[i]) })
	case map[string]string:
		return mapping(x, func(v string) string { return v })
	case map[string]any:
		return mapping(x, stringify)
	}
	return fmt.Sprintf("%+v", v)
}

// element escapes one member of a sequence or mapping so that the
// separators around it stay unambiguous.
func element(s string) string {
	return strings.ReplaceAll(escape(s), ",", "%2C")
}

func sequence(n int, at func(int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = element(at(i))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func mapping[V any](m map[string]V, str func(V) string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = element(k) + "=" + element(str(m[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
