package generator

import (
	"fmt"
	"sort"
	"strings"
)

// Template is a query with $name or ${name} placeholders. $$ is a literal $.
type Template struct {
	source string
}

func NewTemplate(source string) Template {
	return Template{source: source}
}

func (t Template) String() string {
	return t.source
}

// Placeholders returns the distinct placeholder names in t, sorted.
func (t Template) Placeholders() ([]string, error) {
	seen := map[string]struct{}{}
	_, err := t.expand(func(name string) (string, error) {
		seen[name] = struct{}{}
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Substitute replaces every placeholder with fmt.Sprint of its value.
func (t Template) Substitute(params map[string]any) (string, error) {
	return t.expand(func(name string) (string, error) {
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing template key %q", name)
		}
		return fmt.Sprint(value), nil
	})
}

func (t Template) expand(lookup func(string) (string, error)) (string, error) {
	var out strings.Builder
	src := t.source
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '$' {
			out.WriteByte(c)
			continue
		}
		if i+1 >= len(src) {
			return "", fmt.Errorf("invalid placeholder at offset %d", i)
		}
		switch next := src[i+1]; {
		case next == '$':
			out.WriteByte('$')
			i++
		case next == '{':
			end := strings.IndexByte(src[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("invalid placeholder at offset %d", i)
			}
			name := src[i+2 : i+2+end]
			if !isIdentifier(name) {
				return "", fmt.Errorf("invalid placeholder %q at offset %d", name, i)
			}
			value, err := lookup(name)
			if err != nil {
				return "", err
			}
			out.WriteString(value)
			i += 2 + end
		case isIdentStart(next):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			value, err := lookup(src[i+1 : j])
			if err != nil {
				return "", err
			}
			out.WriteString(value)
			i = j - 1
		default:
			return "", fmt.Errorf("invalid placeholder at offset %d", i)
		}
	}
	return out.String(), nil
}

func isIdentifier(name string) bool {
	if name == "" || !isIdentStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isIdentPart(name[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
