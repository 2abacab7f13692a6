package threat

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"
)

// Kind classifies a detected signature.
type Kind int

const (
	// None means no signature matched.
	None Kind = iota
	// SQLInjection means a SQL injection signature matched.
	SQLInjection
	// XSS means a cross-site scripting signature matched.
	XSS
)

func (k Kind) String() string {
	switch k {
	case SQLInjection:
		return "sql_injection"
	case XSS:
		return "xss"
	default:
		return "none"
	}
}

// maxDepth bounds recursion into nested request payloads.
const maxDepth = 32

var defaultSQLPatterns = []string{
	`(?i)\bunion\b(\s+all)?\s+select\b`,
	`(?i)\b(drop|truncate|alter)\s+(table|database|schema)\b`,
	`(?i)\binsert\s+into\b[\s\S]*\bvalues\b`,
	`(?i)\bdelete\s+from\s+[\w.\x60"\[\]]+\s*(\bwhere\b|;|$)`,
	`(?i)\bupdate\s+\w+\s+set\b[\s\S]*=`,
	`(?i)'\s*(or|and)\s+'?\w+'?\s*(=|<|>|like\b)\s*'?\w*`,
	`(?i)('|\))\s*(or|and)\s+\d+\s*=\s*\d+\b`,
	`(;|')\s*(--|#|/\*)`,
	`(?i);\s*(select|insert|update|delete|drop|create|alter|exec|shutdown)\b`,
	`(?i)\b(sleep|benchmark|pg_sleep)\s*\(`,
	`(?i)\bwaitfor\s+delay\b`,
	`(?i)\bexec(ute)?\s+(xp_|sp_)\w+`,
}

var defaultXSSPatterns = []string{
	`(?i)<\s*script\b`,
	`(?i)</\s*script\s*>`,
	`(?i)\b(java|vb)script\s*:`,
	`(?i)<[a-z][^>]*[\s/]on[a-z]+\s*=`,
	`(?i)<\s*(iframe|object|embed|applet|frameset|base|meta)\b`,
	`(?i)\bdata\s*:\s*text/html`,
	`(?i)<[^>]*style\s*=[^>]*expression\s*\(`,
}

// Config adds site-specific signatures to the built-in lists.
type Config struct {
	ExtraSQLPatterns []string `yaml:"extra_sql_patterns"`
	ExtraXSSPatterns []string `yaml:"extra_xss_patterns"`
}

// Detector matches request values against precompiled SQL injection and
// XSS signatures. It is stateless and safe for concurrent use.
type Detector struct {
	sql []*regexp.Regexp
	xss []*regexp.Regexp
}

// New compiles the built-in signatures plus any configured extras.
func New(cfg Config) (*Detector, error) {
	sql, err := compile(append(append([]string{}, defaultSQLPatterns...), cfg.ExtraSQLPatterns...))
	if err != nil {
		return nil, err
	}
	xss, err := compile(append(append([]string{}, defaultXSSPatterns...), cfg.ExtraXSSPatterns...))
	if err != nil {
		return nil, err
	}
	return &Detector{sql: sql, xss: xss}, nil
}

// Default returns a detector with only the built-in signatures.
func Default() *Detector {
	d, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return d
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid threat pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// DetectSQLInjection reports whether v, or any string nested inside it,
// matches a SQL injection signature.
func (d *Detector) DetectSQLInjection(v any) bool {
	return walk(v, 0, func(s string) bool { return matchAny(d.sql, s) })
}

// DetectXSS reports whether v, or any string nested inside it, matches an
// XSS signature.
func (d *Detector) DetectXSS(v any) bool {
	return walk(v, 0, func(s string) bool { return matchAny(d.xss, s) })
}

// Scan returns the first signature class found in v.
func (d *Detector) Scan(v any) Kind {
	if d.DetectSQLInjection(v) {
		return SQLInjection
	}
	if d.DetectXSS(v) {
		return XSS
	}
	return None
}

var sanitizer = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "")

// Sanitize strips <>"' and surrounding whitespace. It is a fallback only;
// parameterized queries remain the real SQL injection defense.
func Sanitize(s string) string {
	return strings.TrimSpace(sanitizer.Replace(s))
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	if s == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func walk(v any, depth int, match func(string) bool) bool {
	if v == nil || depth > maxDepth {
		return false
	}

	switch t := v.(type) {
	case string:
		return match(t)
	case []byte:
		return match(string(t))
	case []string:
		for _, s := range t {
			if match(s) {
				return true
			}
		}
		return false
	case map[string]string:
		for k, s := range t {
			if match(k) || match(s) {
				return true
			}
		}
		return false
	case url.Values:
		return walkStringSlices(t, match)
	case http.Header:
		return walkStringSlices(t, match)
	case map[string]any:
		for k, item := range t {
			if match(k) || walk(item, depth+1, match) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range t {
			if walk(item, depth+1, match) {
				return true
			}
		}
		return false
	}

	return walkReflect(reflect.ValueOf(v), depth, match)
}

func walkStringSlices(m map[string][]string, match func(string) bool) bool {
	for k, values := range m {
		if match(k) {
			return true
		}
		for _, s := range values {
			if match(s) {
				return true
			}
		}
	}
	return false
}

func walkReflect(rv reflect.Value, depth int, match func(string) bool) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return walk(rv.Elem().Interface(), depth+1, match)
	case reflect.String:
		return match(rv.String())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if walk(rv.Index(i).Interface(), depth+1, match) {
				return true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if walk(iter.Key().Interface(), depth+1, match) || walk(iter.Value().Interface(), depth+1, match) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if !rv.Type().Field(i).IsExported() {
				continue
			}
			if walk(rv.Field(i).Interface(), depth+1, match) {
				return true
			}
		}
	}
	return false
}
