package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

// ErrEmptyDeck is returned by ParseDeck for a blank field.
var ErrEmptyDeck = errors.New("empty deck field")

type nodeKind int

const (
	kindString nodeKind = iota
	kindNumber
	kindBool
	kindNone
	kindList
	kindTuple
	kindDict
)

type node struct {
	kind  nodeKind
	text  string // decoded string value, or literal source text for scalars
	raw   string // exact source slice
	items []node
}

// ParseDeck parses a serialized card collection into cards. It accepts
// Python literal syntax as written by repr() (lists of tuples, single or
// double quoted strings, True/False/None) as well as JSON arrays.
//
// Only records (tuples or lists) whose first element is a scalar become
// cards; any other entry is ignored. Unparsable text is an error.
func ParseDeck(s string) ([]model.Card, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyDeck
	}
	p := &literalParser{src: s}
	root, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input %q", p.rest(12))
	}
	if root.kind != kindList && root.kind != kindTuple {
		return nil, fmt.Errorf("deck must be a list or tuple, got %s", root.kindName())
	}

	cards := make([]model.Card, 0, len(root.items))
	for _, entry := range root.items {
		if entry.kind != kindList && entry.kind != kindTuple {
			continue
		}
		if len(entry.items) == 0 || !entry.items[0].scalar() {
			continue
		}
		c := model.Card{ID: entry.items[0].text}
		if len(entry.items) > 1 {
			c.Fields = make([]string, 0, len(entry.items)-1)
			for _, f := range entry.items[1:] {
				c.Fields = append(c.Fields, f.render())
			}
		}
		cards = append(cards, c)
	}
	return cards, nil
}

func (n node) scalar() bool {
	return n.kind == kindString || n.kind == kindNumber || n.kind == kindBool
}

func (n node) render() string {
	switch n.kind {
	case kindString, kindNumber, kindBool:
		return n.text
	case kindNone:
		return ""
	default:
		return n.raw
	}
}

func (n node) kindName() string {
	switch n.kind {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindNone:
		return "none"
	case kindList:
		return "list"
	case kindTuple:
		return "tuple"
	default:
		return "dict"
	}
}

type literalParser struct {
	src   string
	pos   int
	depth int
}

const maxDepth = 32

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) rest(n int) string {
	r := p.src[p.pos:]
	if len(r) > n {
		r = r[:n]
	}
	return r
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) parseValue() (node, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return node{}, p.errorf("unexpected end of input")
	}
	start := p.pos
	switch ch := p.src[p.pos]; {
	case ch == '[':
		return p.parseSeq('[', ']', kindList, start)
	case ch == '(':
		return p.parseSeq('(', ')', kindTuple, start)
	case ch == '{':
		return p.parseDict(start)
	case ch == '\'' || ch == '"':
		s, err := p.parseString(ch)
		if err != nil {
			return node{}, err
		}
		return node{kind: kindString, text: s, raw: p.src[start:p.pos]}, nil
	case ch == '-' || ch == '+' || ch == '.' || (ch >= '0' && ch <= '9'):
		return p.parseNumber(start)
	default:
		return p.parseWord(start)
	}
}

func (p *literalParser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf("nesting deeper than %d", maxDepth)
	}
	return nil
}

func (p *literalParser) parseSeq(open, close byte, kind nodeKind, start int) (node, error) {
	if err := p.enter(); err != nil {
		return node{}, err
	}
	defer func() { p.depth-- }()

	p.pos++ // open
	n := node{kind: kind}
	sawComma := false
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return node{}, p.errorf("unterminated %c", open)
		}
		if p.src[p.pos] == close {
			p.pos++
			break
		}
		item, err := p.parseValue()
		if err != nil {
			return node{}, err
		}
		n.items = append(n.items, item)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return node{}, p.errorf("unterminated %c", open)
		}
		switch p.src[p.pos] {
		case ',':
			sawComma = true
			p.pos++
		case close:
		default:
			return node{}, p.errorf("expected ',' or %q, got %q", close, p.src[p.pos])
		}
	}
	n.raw = p.src[start:p.pos]

	// (x) without a comma is a parenthesized value, not a tuple.
	if kind == kindTuple && len(n.items) == 1 && !sawComma {
		inner := n.items[0]
		inner.raw = n.raw
		return inner, nil
	}
	return n, nil
}

func (p *literalParser) parseDict(start int) (node, error) {
	if err := p.enter(); err != nil {
		return node{}, err
	}
	defer func() { p.depth-- }()

	p.pos++ // {
	n := node{kind: kindDict}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return node{}, p.errorf("unterminated {")
		}
		if p.src[p.pos] == '}' {
			p.pos++
			break
		}
		key, err := p.parseValue()
		if err != nil {
			return node{}, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return node{}, p.errorf("expected ':' in dict")
		}
		p.pos++
		val, err := p.parseValue()
		if err != nil {
			return node{}, err
		}
		n.items = append(n.items, key, val)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '}' {
			return node{}, p.errorf("expected ',' or '}' in dict")
		}
	}
	n.raw = p.src[start:p.pos]
	return n, nil
}

func (p *literalParser) parseString(quote byte) (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case ch == quote:
			p.pos++
			return b.String(), nil
		case ch == '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("dangling escape")
			}
			if err := p.parseEscape(&b); err != nil {
				return "", err
			}
		case ch == '\n':
			return "", p.errorf("newline in string")
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *literalParser) parseEscape(b *strings.Builder) error {
	esc := p.src[p.pos+1]
	p.pos += 2
	switch esc {
	case '\\', '\'', '"', '/':
		b.WriteByte(esc)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case '0':
		b.WriteByte(0)
	case 'x':
		return p.parseHexEscape(b, 2)
	case 'u':
		return p.parseHexEscape(b, 4)
	case 'U':
		return p.parseHexEscape(b, 8)
	default:
		// Unknown escapes are kept verbatim.
		b.WriteByte('\\')
		b.WriteByte(esc)
	}
	return nil
}

func (p *literalParser) parseHexEscape(b *strings.Builder, digits int) error {
	if p.pos+digits > len(p.src) {
		return p.errorf("short \\x/\\u escape")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+digits], 16, 32)
	if err != nil {
		return p.errorf("bad hex escape %q", p.src[p.pos:p.pos+digits])
	}
	p.pos += digits
	b.WriteRune(rune(v))
	return nil
}

func (p *literalParser) parseNumber(start int) (node, error) {
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == '-' || ch == '+' || ch == 'e' || ch == 'E' || ch == '_' {
			p.pos++
			continue
		}
		break
	}
	text := p.src[start:p.pos]
	if _, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64); err != nil {
		return node{}, p.errorf("bad number %q", text)
	}
	return node{kind: kindNumber, text: text, raw: text}, nil
}

func (p *literalParser) parseWord(start int) (node, error) {
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			p.pos++
			continue
		}
		break
	}
	word := p.src[start:p.pos]
	switch word {
	case "True", "true":
		return node{kind: kindBool, text: "True", raw: word}, nil
	case "False", "false":
		return node{kind: kindBool, text: "False", raw: word}, nil
	case "None", "null":
		return node{kind: kindNone, raw: word}, nil
	case "":
		return node{}, p.errorf("unexpected character %q", p.src[start])
	default:
		return node{}, p.errorf("unexpected identifier %q", word)
	}
}
