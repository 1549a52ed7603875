// Package htmldom is a static, script-free implementation of the dom
// contract over golang.org/x/net/html trees. Listeners registered from Go
// stand in for page scripts.
package htmldom

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/PentesterFlow/PageProbe/internal/dom"
)

// Listener reacts to a dispatched event. It runs synchronously inside
// Dispatch and may mutate the document.
type Listener func(doc *Document, target *Element, event string) error

// Document is a parsed HTML page.
type Document struct {
	url       string
	node      *html.Node
	gq        *goquery.Document
	elems     map[*html.Node]*Element
	values    map[*html.Node]string
	checked   map[*html.Node]bool
	listeners map[*html.Node]map[string][]Listener
	observer  func([]dom.Mutation)
	fired     []dom.PageEvent
}

// Parse reads an HTML document located at pageURL.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		url:       pageURL,
		node:      node,
		gq:        goquery.NewDocumentFromNode(node),
		elems:     make(map[*html.Node]*Element),
		values:    make(map[*html.Node]string),
		checked:   make(map[*html.Node]bool),
		listeners: make(map[*html.Node]map[string][]Listener),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(src, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(src), pageURL)
}

// URL returns the document location.
func (d *Document) URL() string { return d.url }

// Root returns the <html> element.
func (d *Document) Root() (dom.Element, error) {
	for c := d.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.element(c), nil
		}
	}
	return nil, fmt.Errorf("document has no root element")
}

// First returns the first element matching selector, or nil.
func (d *Document) First(selector string) *Element {
	sel := d.gq.Find(selector)
	if sel.Length() == 0 {
		return nil
	}
	return d.element(sel.Get(0))
}

// Observe installs the mutation observer. Mutations are delivered
// synchronously, one batch per document change.
func (d *Document) Observe(fn func([]dom.Mutation)) {
	d.observer = fn
}

// On registers a listener for event on el.
func (d *Document) On(el *Element, event string, fn Listener) {
	m := d.listeners[el.node]
	if m == nil {
		m = make(map[string][]Listener)
		d.listeners[el.node] = m
	}
	m[event] = append(m[event], fn)
}

// Fired returns every event dispatched so far, in order.
func (d *Document) Fired() []dom.PageEvent {
	out := make([]dom.PageEvent, len(d.fired))
	copy(out, d.fired)
	return out
}

// AppendHTML parses fragment in the context of parent, appends the
// resulting nodes and reports them as added.
func (d *Document) AppendHTML(parent *Element, fragment string) ([]*Element, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent.node)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}

	var added []*Element
	batch := make([]dom.Mutation, 0, len(nodes))
	for _, n := range nodes {
		parent.node.AppendChild(n)
		m := dom.Mutation{Kind: dom.Added}
		if n.Type == html.ElementNode {
			el := d.element(n)
			added = append(added, el)
			m.Element = el
		}
		batch = append(batch, m)
	}
	d.notify(batch)
	return added, nil
}

// SetAttribute sets an attribute on el and reports the change.
func (d *Document) SetAttribute(el *Element, name, value string) {
	name = strings.ToLower(name)
	for i, a := range el.node.Attr {
		if strings.EqualFold(a.Key, name) {
			el.node.Attr[i].Val = value
			d.notify([]dom.Mutation{{Kind: dom.AttributeChanged, Element: el, Attribute: name}})
			return
		}
	}
	el.node.Attr = append(el.node.Attr, html.Attribute{Key: name, Val: value})
	d.notify([]dom.Mutation{{Kind: dom.AttributeChanged, Element: el, Attribute: name}})
}

func (d *Document) notify(batch []dom.Mutation) {
	if d.observer != nil && len(batch) > 0 {
		d.observer(batch)
	}
}

func (d *Document) element(n *html.Node) *Element {
	if el, ok := d.elems[n]; ok {
		return el
	}
	el := &Element{doc: d, node: n}
	d.elems[n] = el
	return el
}

func (d *Document) dispatch(el *Element, kind dom.EventKind, name string) error {
	d.fired = append(d.fired, dom.PageEvent{Element: el, Name: name})

	// bubble from the target to the root
	for n := el.node; n != nil; n = n.Parent {
		for _, fn := range d.listeners[n][name] {
			if err := fn(d, el, name); err != nil {
				return fmt.Errorf("%s listener on %s: %w", kind.Constructor(), el.Describe(), err)
			}
		}
	}
	return nil
}

func isOption(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Option
}
