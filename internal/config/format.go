package config

import (
	"bytes"
	"strings"
)

const indentUnit = "  "

func format(cfg *Config) []byte {
	var b bytes.Buffer
	for i, n := range cfg.Nodes {
		if i > 0 && (n.HasBlock || cfg.Nodes[i-1].HasBlock || len(n.Comments) > 0) {
			b.WriteByte('\n')
		}
		writeNode(&b, n, 0)
	}
	if len(cfg.Trailing) > 0 {
		if len(cfg.Nodes) > 0 {
			b.WriteByte('\n')
		}
		writeComments(&b, cfg.Trailing, 0)
	}
	return b.Bytes()
}

func writeNode(b *bytes.Buffer, n *Node, depth int) {
	writeComments(b, n.Comments, depth)
	indent := strings.Repeat(indentUnit, depth)
	b.WriteString(indent)
	b.WriteString(n.Name)
	for _, a := range n.Args {
		b.WriteByte(' ')
		writeArg(b, a)
	}
	if !n.HasBlock {
		b.WriteByte('\n')
		return
	}
	if len(n.Children) == 0 && len(n.Tail) == 0 {
		b.WriteString(" {}\n")
		return
	}
	b.WriteString(" {\n")
	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
	writeComments(b, n.Tail, depth+1)
	b.WriteString(indent)
	b.WriteString("}\n")
}

func writeComments(b *bytes.Buffer, comments []string, depth int) {
	for _, c := range comments {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		b.WriteString(strings.Repeat(indentUnit, depth))
		b.WriteString(c)
		b.WriteByte('\n')
	}
}

// writeArg writes a as it must be written to lex back to the same value.
// Unquoted words came from the lexer and round-trip as they are.
func writeArg(b *bytes.Buffer, a Arg) {
	if !a.Quoted && a.Value != "" && !strings.ContainsAny(a.Value, " \t\n\"#") {
		b.WriteString(a.Value)
		return
	}
	b.WriteByte('"')
	for _, r := range a.Value {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
