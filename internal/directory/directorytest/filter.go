package directorytest

import (
	"fmt"
	"strings"
)

// filterNode is a parsed LDAP filter restricted to the subset the fake
// evaluates: equality, presence, AND, OR, NOT.
type filterNode struct {
	op       byte // '=', '&', '|', '!'
	attr     string
	value    string
	children []*filterNode
}

func (f *filterNode) matches(e Entry) bool {
	switch f.op {
	case '&':
		for _, c := range f.children {
			if !c.matches(e) {
				return false
			}
		}
		return true
	case '|':
		for _, c := range f.children {
			if c.matches(e) {
				return true
			}
		}
		return false
	case '!':
		return len(f.children) == 1 && !f.children[0].matches(e)
	case '=':
		for name, values := range e.Attributes {
			if !strings.EqualFold(name, f.attr) {
				continue
			}
			if f.value == "*" {
				return len(values) > 0
			}
			for _, v := range values {
				if strings.EqualFold(v, unescapeFilterValue(f.value)) {
					return true
				}
			}
		}
		return false
	}
	return false
}

// parseFilter parses a filter expression into a tree.
func parseFilter(s string) (*filterNode, error) {
	node, rest, err := parseNode(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("trailing filter content: %q", rest)
	}
	return node, nil
}

func parseNode(s string) (*filterNode, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("filter must start with '(': %q", s)
	}
	s = s[1:]

	if s == "" {
		return nil, "", fmt.Errorf("unterminated filter")
	}

	switch s[0] {
	case '&', '|', '!':
		op := s[0]
		s = s[1:]
		node := &filterNode{op: op}
		for strings.HasPrefix(s, "(") {
			child, rest, err := parseNode(s)
			if err != nil {
				return nil, "", err
			}
			node.children = append(node.children, child)
			s = rest
		}
		if !strings.HasPrefix(s, ")") {
			return nil, "", fmt.Errorf("expected ')' after composite filter")
		}
		return node, s[1:], nil
	default:
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return nil, "", fmt.Errorf("unterminated filter component")
		}
		component := s[:end]
		eq := strings.IndexByte(component, '=')
		if eq < 0 {
			return nil, "", fmt.Errorf("unsupported filter component: %q", component)
		}
		node := &filterNode{
			op:    '=',
			attr:  component[:eq],
			value: component[eq+1:],
		}
		return node, s[end+1:], nil
	}
}

// unescapeFilterValue reverses RFC 4515 escaping for the characters the
// engine escapes.
func unescapeFilterValue(s string) string {
	replacer := strings.NewReplacer(
		`\2a`, `*`,
		`\28`, `(`,
		`\29`, `)`,
		`\5c`, `\`,
		`\00`, "\x00",
	)
	return replacer.Replace(s)
}
