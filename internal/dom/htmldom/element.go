package htmldom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/PentesterFlow/PageProbe/internal/dom"
)

// Element is a node of a Document. Values are canonical per node.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ dom.Element = (*Element)(nil)

// TagName returns the lower-case tag name.
func (e *Element) TagName() string {
	return strings.ToLower(e.node.Data)
}

// Attribute returns the attribute value and whether it is present.
func (e *Element) Attribute(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// HasHandler reports an on<event> attribute or a registered listener.
func (e *Element) HasHandler(event string) (bool, error) {
	if _, ok := e.Attribute("on" + event); ok {
		return true, nil
	}
	return len(e.doc.listeners[e.node][event]) > 0, nil
}

func (e *Element) selection() *goquery.Selection {
	return e.doc.gq.FindNodes(e.node)
}

// Query returns matching descendants in document order.
func (e *Element) Query(selector string) ([]dom.Element, error) {
	var out []dom.Element
	e.selection().Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, e.doc.element(s.Get(0)))
	})
	return out, nil
}

// Matches reports whether the element matches selector.
func (e *Element) Matches(selector string) (bool, error) {
	return e.selection().Is(selector), nil
}

// Value returns the current form value of the element.
func (e *Element) Value() (string, error) {
	if v, ok := e.doc.values[e.node]; ok {
		return v, nil
	}

	switch e.node.DataAtom {
	case atom.Textarea:
		return textContent(e.node), nil
	case atom.Select:
		var first, selected *html.Node
		eachOption(e.node, func(o *html.Node) {
			if first == nil {
				first = o
			}
			if _, ok := attr(o, "selected"); ok && selected == nil {
				selected = o
			}
		})
		if selected != nil {
			return optionValue(selected), nil
		}
		if first != nil {
			return optionValue(first), nil
		}
		return "", nil
	case atom.Option:
		return optionValue(e.node), nil
	case atom.Input:
		v, ok := e.Attribute("value")
		if !ok {
			t, _ := e.Attribute("type")
			if t = strings.ToLower(t); t == "checkbox" || t == "radio" {
				return "on", nil
			}
		}
		return v, nil
	}

	v, _ := e.Attribute("value")
	return v, nil
}

// SetValue sets the form value property. Attributes are not touched, so
// no mutation is reported.
func (e *Element) SetValue(value string) error {
	e.doc.values[e.node] = value
	return nil
}

// Checked returns the checkedness of a checkbox or radio.
func (e *Element) Checked() (bool, error) {
	if c, ok := e.doc.checked[e.node]; ok {
		return c, nil
	}
	_, ok := e.Attribute("checked")
	return ok, nil
}

// SetChecked sets the checkedness property.
func (e *Element) SetChecked(checked bool) error {
	e.doc.checked[e.node] = checked
	return nil
}

// Dispatch records the event and runs listeners on the element and its
// ancestors.
func (e *Element) Dispatch(kind dom.EventKind, name string) error {
	return e.doc.dispatch(e, kind, name)
}

// Describe returns tag#id.class.
func (e *Element) Describe() string {
	var b strings.Builder
	b.WriteString(e.TagName())
	if id, ok := e.Attribute("id"); ok && id != "" {
		b.WriteString("#")
		b.WriteString(id)
	}
	if class, ok := e.Attribute("class"); ok {
		if fields := strings.Fields(class); len(fields) > 0 {
			b.WriteString(".")
			b.WriteString(fields[0])
		}
	}
	return b.String()
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func eachOption(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isOption(c) {
			fn(c)
			continue
		}
		if c.Type == html.ElementNode && c.DataAtom == atom.Optgroup {
			eachOption(c, fn)
		}
	}
}

func optionValue(n *html.Node) string {
	if v, ok := attr(n, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(n))
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
