package testutil

import (
	"fmt"
	"strings"
)

// Node is an element of the in-memory DOM used by FakeSurface.
type Node struct {
	Tag      string
	Attrs    map[string]string
	OwnText  string
	Children []*Node
	OnClick  func()

	parent *Node
	clicks int
	typed  string
}

// N builds a node. attrs are key/value pairs, for example
// N("div", "class", "message-item sent", "data-id", "7").
func N(tag string, attrs ...string) *Node {
	if len(attrs)%2 != 0 {
		panic(fmt.Sprintf("testutil.N(%q): odd number of attribute arguments", tag))
	}
	n := &Node{Tag: strings.ToLower(tag), Attrs: make(map[string]string)}
	for i := 0; i < len(attrs); i += 2 {
		n.Attrs[attrs[i]] = attrs[i+1]
	}
	return n
}

// Text sets the node's own text.
func (n *Node) Text(s string) *Node {
	n.OwnText = s
	return n
}

// With appends children.
func (n *Node) With(children ...*Node) *Node {
	for _, c := range children {
		if c == nil {
			continue
		}
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// Clicked sets the click handler.
func (n *Node) Clicked(fn func()) *Node {
	n.OnClick = fn
	return n
}

// Clicks returns how many times the node was clicked.
func (n *Node) Clicks() int { return n.clicks }

// Typed returns the last text typed into the node.
func (n *Node) Typed() string { return n.typed }

// InnerText joins the node's own text with its descendants' text, one line each.
func (n *Node) InnerText() string {
	var parts []string
	if t := strings.TrimSpace(n.OwnText); t != "" {
		parts = append(parts, t)
	}
	for _, c := range n.Children {
		if t := c.InnerText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func (n *Node) classes() []string {
	return strings.Fields(n.Attrs["class"])
}

// descendants returns the node's descendants in document order.
func (n *Node) descendants() []*Node {
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c)
		out = append(out, c.descendants()...)
	}
	return out
}

// querySelectorAll matches a comma-separated selector list against the
// descendants of n (and n itself when includeSelf), in document order.
func (n *Node) querySelectorAll(selector string, includeSelf bool) ([]*Node, error) {
	var groups [][]compound
	for _, part := range strings.Split(selector, ",") {
		chain, err := parseChain(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		groups = append(groups, chain)
	}

	candidates := n.descendants()
	if includeSelf {
		candidates = append([]*Node{n}, candidates...)
	}

	var out []*Node
	for _, c := range candidates {
		for _, chain := range groups {
			if matchChain(c, chain, n) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

type attrTest struct {
	name, op, value string
}

type compound struct {
	tag     string
	classes []string
	id      string
	attrs   []attrTest
}

// parseChain supports descendant combinators over compounds of the form
// tag.class#id[attr][attr="v"][attr*="v"][attr^="v"][attr$="v"].
func parseChain(sel string) ([]compound, error) {
	if sel == "" {
		return nil, fmt.Errorf("empty selector")
	}
	var chain []compound
	for _, token := range splitOutsideBrackets(sel) {
		c, err := parseCompound(token)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
	}
	return chain, nil
}

func splitOutsideBrackets(sel string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	inQuote := false
	for _, r := range sel {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '[' && !inQuote:
			depth++
		case r == ']' && !inQuote:
			depth--
		case r == ' ' && depth == 0 && !inQuote:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	for i < len(s) && s[i] != '.' && s[i] != '#' && s[i] != '[' {
		i++
	}
	c.tag = strings.ToLower(s[:i])
	for i < len(s) {
		switch s[i] {
		case '.', '#':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '#' && s[j] != '[' {
				j++
			}
			if s[i] == '.' {
				c.classes = append(c.classes, s[i+1:j])
			} else {
				c.id = s[i+1 : j]
			}
			i = j
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute selector in %q", s)
			}
			c.attrs = append(c.attrs, parseAttr(s[i+1:i+end]))
			i += end + 1
		default:
			return c, fmt.Errorf("unsupported selector %q", s)
		}
	}
	return c, nil
}

func parseAttr(body string) attrTest {
	for _, op := range []string{"*=", "^=", "$=", "="} {
		if idx := strings.Index(body, op); idx >= 0 {
			return attrTest{
				name:  strings.TrimSpace(body[:idx]),
				op:    op,
				value: strings.Trim(strings.TrimSpace(body[idx+len(op):]), `"'`),
			}
		}
	}
	return attrTest{name: strings.TrimSpace(body)}
}

func matchCompound(n *Node, c compound) bool {
	if c.tag != "" && c.tag != "*" && c.tag != n.Tag {
		return false
	}
	if c.id != "" && n.Attrs["id"] != c.id {
		return false
	}
	for _, want := range c.classes {
		found := false
		for _, have := range n.classes() {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.Attrs[a.name]
		if !ok {
			return false
		}
		switch a.op {
		case "=":
			ok = v == a.value
		case "*=":
			ok = strings.Contains(v, a.value)
		case "^=":
			ok = strings.HasPrefix(v, a.value)
		case "$=":
			ok = strings.HasSuffix(v, a.value)
		}
		if !ok {
			return false
		}
	}
	return true
}

// matchChain matches the last compound against n and the earlier ones
// against its ancestors, staying inside scope.
func matchChain(n *Node, chain []compound, scope *Node) bool {
	if !matchCompound(n, chain[len(chain)-1]) {
		return false
	}
	rest := chain[:len(chain)-1]
	for anc := n.parent; len(rest) > 0 && anc != nil; anc = anc.parent {
		if matchCompound(anc, rest[len(rest)-1]) {
			rest = rest[:len(rest)-1]
		}
		if anc == scope {
			break
		}
	}
	return len(rest) == 0
}
