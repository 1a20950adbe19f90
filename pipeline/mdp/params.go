// Package mdp renders GROMACS control-parameter (.mdp) files from templates
// and edits their parameters.
package mdp

import (
	"bytes"
	"fmt"
	"strings"
)

// Param is one `key = value` line of a parameter file.
type Param struct {
	Key   string
	Value string
}

type line struct {
	text string // without the trailing newline
	key  string // empty for comments and blank lines
}

// File is a parameter file that keeps comments, ordering and formatting of
// every line it does not change.
type File struct {
	lines        []line
	trailingNewl bool
}

// Parse reads parameter file content. Lines containing '=' that are not
// comments are parameters; everything else is kept verbatim.
func Parse(data []byte) *File {
	f := &File{trailingNewl: len(data) == 0 || bytes.HasSuffix(data, []byte("\n"))}
	if len(data) == 0 {
		return f
	}
	text := strings.TrimSuffix(string(data), "\n")
	for _, raw := range strings.Split(text, "\n") {
		f.lines = append(f.lines, line{text: raw, key: paramKey(raw)})
	}
	return f
}

func paramKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") {
		return ""
	}
	key, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(key)
}

func paramValue(raw string) string {
	_, value, _ := strings.Cut(raw, "=")
	if i := strings.Index(value, ";"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

// sameKey compares parameter names the way GROMACS does: '-' and '_' are
// interchangeable.
func sameKey(a, b string) bool {
	norm := func(s string) string { return strings.ReplaceAll(strings.TrimSpace(s), "_", "-") }
	return norm(a) == norm(b)
}

// Get returns the value of the first parameter named key.
func (f *File) Get(key string) (string, bool) {
	for _, l := range f.lines {
		if l.key != "" && sameKey(l.key, key) {
			return paramValue(l.text), true
		}
	}
	return "", false
}

// Set replaces the first parameter line named key, or appends one.
func (f *File) Set(key, value string) {
	key = strings.TrimSpace(key)
	formatted := FormatParam(key, value)
	for i, l := range f.lines {
		if l.key != "" && sameKey(l.key, key) {
			f.lines[i] = line{text: formatted, key: key}
			return
		}
	}
	f.lines = append(f.lines, line{text: formatted, key: key})
}

// Params returns all parameters in file order.
func (f *File) Params() []Param {
	var params []Param
	for _, l := range f.lines {
		if l.key != "" {
			params = append(params, Param{Key: l.key, Value: paramValue(l.text)})
		}
	}
	return params
}

// Keys returns parameter names in file order.
func (f *File) Keys() []string {
	var keys []string
	for _, l := range f.lines {
		if l.key != "" {
			keys = append(keys, l.key)
		}
	}
	return keys
}

// Bytes serializes the file.
func (f *File) Bytes() []byte {
	var b bytes.Buffer
	for i, l := range f.lines {
		b.WriteString(l.text)
		if i < len(f.lines)-1 || f.trailingNewl {
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

// FormatParam formats a parameter line with the column alignment CHARMM-GUI uses.
func FormatParam(key, value string) string {
	return fmt.Sprintf("%-23s = %s", key, value)
}
