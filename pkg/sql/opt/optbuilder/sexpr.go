// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

type nodeKind uint8

const (
	atomNode nodeKind = iota
	stringNode
	listNode
	bracketNode
)

// node is a parsed s-expression: an atom, a quoted string, a parenthesized
// list or a bracketed list.
type node struct {
	kind     nodeKind
	text     string
	children []*node
	pos      int
}

func (n *node) String() string {
	switch n.kind {
	case atomNode:
		return n.text
	case stringNode:
		return "'" + strings.ReplaceAll(n.text, "'", "''") + "'"
	}
	open, close := "(", ")"
	if n.kind == bracketNode {
		open, close = "[", "]"
	}
	var buf strings.Builder
	buf.WriteString(open)
	for i, c := range n.children {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(c.String())
	}
	buf.WriteString(close)
	return buf.String()
}

// head returns the operator name of a parenthesized list.
func (n *node) head() string {
	if n.kind != listNode || len(n.children) == 0 || n.children[0].kind != atomNode {
		return ""
	}
	return n.children[0].text
}

// parseError is raised by the parser and the builder. It is converted to an
// error by Build.
type parseError struct {
	error
}

func errorf(pos int, format string, args ...interface{}) {
	panic(parseError{errors.Newf("at offset %d: %s", pos, fmt.Sprintf(format, args...))})
}

type parser struct {
	src string
	pos int
}

// parse reads a single s-expression from src. Comments start with "--" and
// run to the end of the line.
func parse(src string) *node {
	p := parser{src: src}
	n := p.parseNode()
	p.skipSpace()
	if p.pos < len(p.src) {
		errorf(p.pos, "unexpected %q after expression", p.src[p.pos:])
	}
	return n
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch {
		case unicode.IsSpace(rune(p.src[p.pos])):
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "--"):
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) parseNode() *node {
	p.skipSpace()
	if p.pos >= len(p.src) {
		errorf(p.pos, "unexpected end of input")
	}
	start := p.pos
	switch c := p.src[p.pos]; c {
	case '(', '[':
		kind, closeCh := listNode, byte(')')
		if c == '[' {
			kind, closeCh = bracketNode, ']'
		}
		p.pos++
		n := &node{kind: kind, pos: start}
		for {
			p.skipSpace()
			if p.pos >= len(p.src) {
				errorf(start, "unterminated %c", c)
			}
			if p.src[p.pos] == closeCh {
				p.pos++
				return n
			}
			if p.src[p.pos] == ')' || p.src[p.pos] == ']' {
				errorf(p.pos, "mismatched %c", p.src[p.pos])
			}
			n.children = append(n.children, p.parseNode())
		}

	case ')', ']':
		errorf(p.pos, "unexpected %c", c)

	case '\'':
		p.pos++
		var buf strings.Builder
		for {
			if p.pos >= len(p.src) {
				errorf(start, "unterminated string")
			}
			if p.src[p.pos] == '\'' {
				if p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'' {
					buf.WriteByte('\'')
					p.pos += 2
					continue
				}
				p.pos++
				return &node{kind: stringNode, text: buf.String(), pos: start}
			}
			buf.WriteByte(p.src[p.pos])
			p.pos++
		}
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if unicode.IsSpace(rune(c)) || c == '(' || c == ')' || c == '[' || c == ']' || c == '\'' {
			break
		}
		p.pos++
	}
	return &node{kind: atomNode, text: p.src[start:p.pos], pos: start}
}
