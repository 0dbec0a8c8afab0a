package config

import (
	"fmt"
)

// Arg is one directive argument as written in the file.
type Arg struct {
	Value  string
	Quoted bool
}

// Node is one directive: a name, its arguments and an optional block.
type Node struct {
	Name string
	Args []Arg

	// HasBlock distinguishes "name {}" from a plain directive.
	HasBlock bool
	Children []*Node

	// Comments are the comment lines directly above the directive; Tail
	// holds comments between the last child and the closing brace.
	Comments []string
	Tail     []string

	pos position
}

// Values returns the raw argument values.
func (n *Node) Values() []string {
	out := make([]string, len(n.Args))
	for i, a := range n.Args {
		out[i] = a.Value
	}
	return out
}

type parser struct {
	lex     *lexer
	peeked  token
	hasPeek bool
}

func newParser(src string) *parser {
	return &parser{lex: newLexer(src)}
}

func (p *parser) parse() (*Config, error) {
	nodes, tail, err := p.parseBlock(nil)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &Config{Nodes: nodes, Trailing: tail}, nil
}

// parseBlock reads directives until EOF (open == nil) or the '}' matching
// the brace at open.
func (p *parser) parseBlock(open *position) ([]*Node, []string, error) {
	var nodes []*Node
	var comments []string
	for {
		tok, err := p.next()
		if err != nil {
			return nil, nil, err
		}
		switch tok.kind {
		case tokNewline:
			continue
		case tokComment:
			comments = append(comments, tok.text)
		case tokEOF:
			if open != nil {
				return nil, nil, p.errAt(tok.pos, "missing '}' for block opened at %s", open)
			}
			return nodes, comments, nil
		case tokClose:
			if open == nil {
				return nil, nil, p.errAt(tok.pos, "unexpected '}'")
			}
			return nodes, comments, nil
		case tokOpen:
			return nil, nil, p.errAt(tok.pos, "unexpected '{' without a directive name")
		case tokQuoted:
			return nil, nil, p.errAt(tok.pos, "directive name must not be quoted")
		case tokWord:
			n, err := p.parseDirective(tok)
			if err != nil {
				return nil, nil, err
			}
			n.Comments = comments
			comments = nil
			nodes = append(nodes, n)
		}
	}
}

func (p *parser) parseDirective(name token) (*Node, error) {
	n := &Node{Name: name.text, pos: name.pos}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokWord, tokQuoted:
			_, _ = p.next()
			n.Args = append(n.Args, Arg{Value: tok.text, Quoted: tok.kind == tokQuoted})
		case tokOpen:
			_, _ = p.next()
			children, tail, err := p.parseBlock(&tok.pos)
			if err != nil {
				return nil, err
			}
			n.HasBlock = true
			n.Children = children
			n.Tail = tail
			return n, p.endOfDirective()
		default:
			// Newline, comment, '}' and EOF end the directive and are left
			// for the enclosing block.
			return n, nil
		}
	}
}

// endOfDirective rejects arguments after a closing brace on the same line.
func (p *parser) endOfDirective() error {
	tok, err := p.peek()
	if err != nil {
		return err
	}
	switch tok.kind {
	case tokWord, tokQuoted, tokOpen:
		return p.errAt(tok.pos, "unexpected %s after '}'", tok.kind)
	default:
		return nil
	}
}

func (p *parser) peek() (token, error) {
	if p.hasPeek {
		return p.peeked, nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return token{}, err
	}
	p.peeked = tok
	p.hasPeek = true
	return tok, nil
}

func (p *parser) next() (token, error) {
	if p.hasPeek {
		p.hasPeek = false
		return p.peeked, nil
	}
	return p.lex.next()
}

func (p *parser) errAt(pos position, format string, args ...any) error {
	return fmt.Errorf("config parse error at %s: %s", pos, fmt.Sprintf(format, args...))
}
