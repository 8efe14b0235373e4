// Package manifest reads and edits Cargo.toml files without disturbing the
// formatting of the parts it does not touch.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/slices"
)

// Document is an editable Cargo manifest. Untouched statements are written
// back byte for byte.
type Document struct {
	filename string
	entries  []*entry
}

// Load reads and parses the manifest at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses manifest text. The document must be valid TOML as a whole,
// not only line by line, so duplicate keys and bad values are rejected too.
func Parse(filename string, data []byte) (*Document, error) {
	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		perr := &ParseError{Filename: filename, Line: 1, Column: 1, Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
			perr.Err = errors.New(derr.Error())
		}
		return nil, perr
	}
	entries, err := parseEntries(filename, string(data))
	if err != nil {
		return nil, err
	}
	return &Document{filename: filename, entries: entries}, nil
}

// Bytes serializes the document.
func (d *Document) Bytes() []byte {
	var b strings.Builder
	for _, e := range d.entries {
		b.WriteString(e.raw)
	}
	return []byte(b.String())
}

func (d *Document) String() string { return string(d.Bytes()) }

// WriteFile writes the document to path.
func (d *Document) WriteFile(path string) error {
	return os.WriteFile(path, d.Bytes(), 0o644)
}

func hasPrefix(path, prefix []string) bool {
	return len(path) >= len(prefix) && slices.Equal(path[:len(prefix)], prefix)
}

func (d *Document) findKV(path []string) (int, *entry) {
	for i, e := range d.entries {
		if e.kind == entryKeyValue && slices.Equal(e.path(), path) {
			return i, e
		}
	}
	return -1, nil
}

// findKVPrefix returns the key/value that holds path, possibly inside an
// inline table, and the remaining path below it.
func (d *Document) findKVPrefix(path []string) (*entry, []string) {
	for n := len(path); n >= 1; n-- {
		if _, e := d.findKV(path[:n]); e != nil {
			return e, path[n:]
		}
	}
	return nil, nil
}

func (d *Document) findHeader(path []string) int {
	for i, e := range d.entries {
		if e.kind == entryHeader && slices.Equal(e.table, path) {
			return i
		}
	}
	return -1
}

// Get returns the decoded value at path. Tables come back as
// map[string]any.
func (d *Document) Get(path ...string) (any, bool) {
	if e, rest := d.findKVPrefix(path); e != nil {
		v, err := decodeValue(e.value)
		if err != nil {
			return nil, false
		}
		for _, k := range rest {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, false
			}
			if v, ok = m[k]; !ok {
				return nil, false
			}
		}
		return v, true
	}
	if !d.HasTable(path...) {
		return nil, false
	}
	table := map[string]any{}
	for _, e := range d.entries {
		if e.kind != entryKeyValue {
			continue
		}
		full := e.path()
		if len(full) <= len(path) || !hasPrefix(full, path) {
			continue
		}
		v, err := decodeValue(e.value)
		if err != nil {
			return nil, false
		}
		m := table
		rel := full[len(path):]
		for _, k := range rel[:len(rel)-1] {
			next, ok := m[k].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[k] = next
			}
			m = next
		}
		m[rel[len(rel)-1]] = v
	}
	return table, true
}

// GetString returns the string at path.
func (d *Document) GetString(path ...string) (string, bool) {
	v, ok := d.Get(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetBool returns the boolean at path.
func (d *Document) GetBool(path ...string) (bool, bool) {
	v, ok := d.Get(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Has reports whether any value or table exists at path.
func (d *Document) Has(path ...string) bool {
	_, ok := d.Get(path...)
	return ok
}

// HasTable reports whether path names a table, either through a header or
// through keys below it.
func (d *Document) HasTable(path ...string) bool {
	if len(path) == 0 {
		return true
	}
	for _, e := range d.entries {
		switch e.kind {
		case entryHeader, entryArrayHeader:
			if hasPrefix(e.table, path) {
				return true
			}
		case entryKeyValue:
			if full := e.path(); len(full) > len(path) && hasPrefix(full, path) {
				return true
			}
		}
	}
	if e, _ := d.findKVPrefix(path); e != nil {
		v, ok := d.Get(path...)
		_, isTable := v.(map[string]any)
		return ok && isTable
	}
	return false
}

// Keys lists the direct children of the table at path in document order.
func (d *Document) Keys(path ...string) []string {
	var keys []string
	add := func(k string) {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	for _, e := range d.entries {
		var full []string
		switch e.kind {
		case entryHeader, entryArrayHeader:
			full = e.table
		case entryKeyValue:
			full = e.path()
		default:
			continue
		}
		if len(full) > len(path) && hasPrefix(full, path) {
			add(full[len(path)])
		}
	}
	if len(keys) == 0 {
		if v, ok := d.Get(path...); ok {
			if m, ok := v.(map[string]any); ok {
				for k := range m {
					keys = append(keys, k)
				}
				slices.Sort(keys)
			}
		}
	}
	return keys
}

// RawValue returns the value text at path as it could be written back in a
// key/value statement. Tables are re-encoded as inline tables.
func (d *Document) RawValue(path ...string) (string, bool) {
	if _, e := d.findKV(path); e != nil {
		return e.value, true
	}
	v, ok := d.Get(path...)
	if !ok {
		return "", false
	}
	s, err := encodeValue(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// Set encodes v and stores it at path.
func (d *Document) Set(path []string, v any) error {
	text, err := encodeValue(v)
	if err != nil {
		return err
	}
	return d.SetRaw(path, text)
}

// SetRaw stores already encoded value text at path. Existing keys keep
// their key text, spacing and trailing comment; new keys are appended to
// their table, which is created when missing.
func (d *Document) SetRaw(path []string, text string) error {
	if len(path) == 0 {
		return errors.New("empty key path")
	}
	if _, e := d.findKV(path); e != nil {
		e.value = text
		e.rebuild()
		return nil
	}
	if e, rest := d.findKVPrefix(path); e != nil {
		return d.editInline(e, rest, func(m map[string]any, k string) error {
			v, err := decodeValue(text)
			if err != nil {
				return err
			}
			m[k] = v
			return nil
		})
	}

	table, key := path[:len(path)-1], path[len(path)-1]
	e := &entry{
		kind:    entryKeyValue,
		table:   append([]string(nil), table...),
		key:     []string{key},
		keyText: encodeKey(key),
		sep:     " = ",
		value:   text,
		trailer: "\n",
	}
	e.rebuild()

	at := d.sectionEnd(table)
	if at < 0 {
		// the table may only exist through dotted keys such as
		// lib.proc-macro = true, keep extending those
		if i := d.lastDotted(table); i >= 0 {
			owner := d.entries[i].table
			e.table = append([]string(nil), owner...)
			e.key = append([]string(nil), path[len(owner):]...)
			keys := make([]string, len(e.key))
			for j, k := range e.key {
				keys[j] = encodeKey(k)
			}
			e.keyText = strings.Join(keys, ".")
			e.indent = d.entries[i].indent
			e.rebuild()
			d.insert(i+1, e)
			return nil
		}
		d.appendHeader(table)
		at = len(d.entries)
	}
	d.insert(at, e)
	return nil
}

// EnsureTable creates an empty [path] table when nothing defines it yet.
func (d *Document) EnsureTable(path ...string) {
	if len(path) == 0 || d.HasTable(path...) {
		return
	}
	d.appendHeader(path)
}

// Delete removes the key or table at path, including sub-tables and dotted
// keys below it. It reports whether anything was removed.
func (d *Document) Delete(path ...string) bool {
	if len(path) == 0 {
		return false
	}
	if i, e := d.findKV(path); e != nil {
		d.entries = slices.Delete(d.entries, i, i+1)
		return true
	}
	if e, rest := d.findKVPrefix(path); e != nil && len(rest) > 0 {
		removed := false
		err := d.editInline(e, rest, func(m map[string]any, k string) error {
			_, removed = m[k]
			delete(m, k)
			return nil
		})
		return err == nil && removed
	}

	removed := false
	kept := d.entries[:0]
	dropping := false
	for _, e := range d.entries {
		switch e.kind {
		case entryHeader, entryArrayHeader:
			dropping = hasPrefix(e.table, path)
		}
		drop := dropping
		if e.kind == entryKeyValue && hasPrefix(e.path(), path) {
			drop = true
		}
		if drop {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	d.entries = kept
	return removed
}

func (d *Document) editInline(e *entry, rest []string, fn func(m map[string]any, k string) error) error {
	v, err := decodeValue(e.value)
	if err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%s is not a table", strings.Join(e.path(), "."))
	}
	root := m
	for _, k := range rest[:len(rest)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	if err := fn(m, rest[len(rest)-1]); err != nil {
		return err
	}
	text, err := encodeValue(root)
	if err != nil {
		return err
	}
	e.value = text
	e.rebuild()
	return nil
}

// sectionEnd returns the index after the last key/value of table, or -1 if
// the table has no header of its own. The root table always exists.
func (d *Document) sectionEnd(table []string) int {
	start := 0
	if len(table) > 0 {
		h := d.findHeader(table)
		if h < 0 {
			return -1
		}
		start = h + 1
	}
	end := start
	for i := start; i < len(d.entries); i++ {
		e := d.entries[i]
		if e.kind == entryHeader || e.kind == entryArrayHeader {
			break
		}
		if e.kind == entryKeyValue {
			end = i + 1
		}
	}
	return end
}

func (d *Document) lastDotted(table []string) int {
	last := -1
	for i, e := range d.entries {
		if e.kind != entryKeyValue {
			continue
		}
		if full := e.path(); len(full) > len(table) && hasPrefix(full, table) && len(e.table) < len(table) {
			last = i
		}
	}
	return last
}

func (d *Document) appendHeader(path []string) {
	if n := len(d.entries); n > 0 {
		last := d.entries[n-1]
		if last.kind != entryTrivia || strings.TrimSpace(last.raw) != "" {
			d.insert(n, &entry{kind: entryTrivia, raw: "\n"})
		}
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = encodeKey(p)
	}
	d.insert(len(d.entries), &entry{
		kind:  entryHeader,
		raw:   "[" + strings.Join(parts, ".") + "]\n",
		table: append([]string(nil), path...),
	})
}

func (d *Document) insert(at int, e *entry) {
	if at > 0 {
		if prev := d.entries[at-1]; !prev.endsLine() {
			prev.raw += "\n"
			if prev.kind == entryKeyValue {
				prev.trailer += "\n"
			}
		}
	}
	d.entries = slices.Insert(d.entries, at, e)
}
