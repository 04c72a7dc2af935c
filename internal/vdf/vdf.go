// Package vdf reads and writes Valve's text KeyValues format, as used by
// Steam's config.vdf. Objects keep entry order so a parse→mutate→dump
// cycle leaves every unrelated sibling byte-for-byte intact after
// normalization, which the additive depot-key merge depends on.
package vdf

import (
	"bytes"
	"strings"

	"depotkit/internal/fault"
)

// Entry is one key inside an Object: either a string value or a nested
// subsection, never both.
type Entry struct {
	Key   string
	Value string
	Sub   *Object
}

// Object is an ordered string-keyed map.
type Object struct {
	entries []*Entry
	index   map[string]*Entry
}

func NewObject() *Object {
	return &Object{index: map[string]*Entry{}}
}

func (o *Object) Len() int { return len(o.entries) }

func (o *Object) Entries() []*Entry { return o.entries }

// Child returns the subsection named key (case-sensitive).
func (o *Object) Child(key string) (*Object, bool) {
	e, ok := o.index[key]
	if !ok || e.Sub == nil {
		return nil, false
	}
	return e.Sub, true
}

// ChildFold returns the first subsection whose key matches under Unicode
// case folding. config.vdf spells the Valve section with either case
// depending on the installation that wrote it.
func (o *Object) ChildFold(key string) (*Object, bool) {
	for _, e := range o.entries {
		if e.Sub != nil && strings.EqualFold(e.Key, key) {
			return e.Sub, true
		}
	}
	return nil, false
}

func (o *Object) String(key string) (string, bool) {
	e, ok := o.index[key]
	if !ok || e.Sub != nil {
		return "", false
	}
	return e.Value, true
}

// SetString sets key to a string value, appending the entry if new.
func (o *Object) SetString(key, value string) {
	if e, ok := o.index[key]; ok {
		e.Value = value
		e.Sub = nil
		return
	}
	e := &Entry{Key: key, Value: value}
	o.entries = append(o.entries, e)
	o.index[key] = e
}

// EnsureChild returns the subsection named key, creating it if absent. An
// existing string entry under the same key is replaced by a section.
func (o *Object) EnsureChild(key string) *Object {
	if e, ok := o.index[key]; ok {
		if e.Sub == nil {
			e.Sub = NewObject()
			e.Value = ""
		}
		return e.Sub
	}
	e := &Entry{Key: key, Sub: NewObject()}
	o.entries = append(o.entries, e)
	o.index[key] = e
	return e.Sub
}

// Parse decodes a KeyValues document into its root object. Input is
// untrusted; structural problems come back as Malformed, never a panic.
func Parse(data []byte) (*Object, error) {
	p := &parser{src: data}
	root := NewObject()
	if err := p.parseInto(root, true); err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	src []byte
	pos int
}

func (p *parser) parseInto(obj *Object, top bool) error {
	for {
		tok, kind, err := p.next()
		if err != nil {
			return err
		}
		switch kind {
		case tokenEOF:
			if !top {
				return fault.New(fault.KindMalformed, "VDF_PARSE: unexpected end of input inside section")
			}
			return nil
		case tokenClose:
			if top {
				return fault.New(fault.KindMalformed, "VDF_PARSE: unbalanced closing brace")
			}
			return nil
		case tokenOpen:
			return fault.New(fault.KindMalformed, "VDF_PARSE: section start without a key")
		}

		key := tok
		tok, kind, err = p.next()
		if err != nil {
			return err
		}
		switch kind {
		case tokenOpen:
			sub := obj.EnsureChild(key)
			if err := p.parseInto(sub, false); err != nil {
				return err
			}
		case tokenString:
			obj.SetString(key, tok)
		default:
			return fault.New(fault.KindMalformed, "VDF_PARSE: key %q has no value", key)
		}
	}
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenString
	tokenOpen
	tokenClose
)

func (p *parser) next() (string, tokenKind, error) {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			p.pos++
		case c == '/' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '/':
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		case c == '{':
			p.pos++
			return "", tokenOpen, nil
		case c == '}':
			p.pos++
			return "", tokenClose, nil
		case c == '"':
			return p.quoted()
		case c == '[':
			// Platform conditional ([$WIN32] etc). Skip to the closing
			// bracket; the merge never needs to evaluate them.
			for p.pos < len(p.src) && p.src[p.pos] != ']' {
				p.pos++
			}
			if p.pos < len(p.src) {
				p.pos++
			}
		default:
			return p.bare()
		}
	}
	return "", tokenEOF, nil
}

func (p *parser) quoted() (string, tokenKind, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), tokenString, nil
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return "", tokenEOF, fault.New(fault.KindMalformed, "VDF_PARSE: dangling escape")
			}
			switch p.src[p.pos] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte('\\')
				b.WriteByte(p.src[p.pos])
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", tokenEOF, fault.New(fault.KindMalformed, "VDF_PARSE: unterminated string")
}

func (p *parser) bare() (string, tokenKind, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '{' || c == '}' || c == '"' {
			break
		}
		p.pos++
	}
	return string(p.src[start:p.pos]), tokenString, nil
}

// Dump serializes the object in Steam's pretty tab-indented form.
func (o *Object) Dump() []byte {
	var buf bytes.Buffer
	o.dump(&buf, 0)
	return buf.Bytes()
}

func (o *Object) dump(buf *bytes.Buffer, depth int) {
	indent := strings.Repeat("\t", depth)
	for _, e := range o.entries {
		if e.Sub != nil {
			buf.WriteString(indent)
			buf.WriteString(quote(e.Key))
			buf.WriteByte('\n')
			buf.WriteString(indent)
			buf.WriteString("{\n")
			e.Sub.dump(buf, depth+1)
			buf.WriteString(indent)
			buf.WriteString("}\n")
			continue
		}
		buf.WriteString(indent)
		buf.WriteString(quote(e.Key))
		buf.WriteString("\t\t")
		buf.WriteString(quote(e.Value))
		buf.WriteByte('\n')
	}
}

func quote(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n", "\t", "\\t")
	return "\"" + r.Replace(s) + "\""
}
