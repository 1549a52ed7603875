package browser

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ysmood/gson"

	"github.com/PentesterFlow/PageProbe/internal/dom"
)

// Document is the live DOM of a Page. Elements are addressed by the ids
// the probe script hands out, one canonical *Element per id.
type Document struct {
	page  *Page
	url   atomic.Value
	mu    sync.Mutex
	elems map[int]*Element
}

var _ dom.Document = (*Document)(nil)

// URL returns the document location.
func (d *Document) URL() string {
	s, _ := d.url.Load().(string)
	return s
}

// Root returns the document element.
func (d *Document) Root() (dom.Element, error) {
	v, err := d.call("root")
	if err != nil {
		return nil, err
	}
	el := d.element(v)
	if el == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return el, nil
}

// call invokes a probe api function with args.
func (d *Document) call(fn string, args ...interface{}) (gson.JSON, error) {
	js := fmt.Sprintf(`(...args) => window.__pageprobe.%s(...args)`, fn)
	res, err := d.page.page.Eval(js, args...)
	if err != nil {
		return gson.New(nil), fmt.Errorf("probe %s: %w", fn, err)
	}
	return res.Value, nil
}

// element returns the canonical element for an [id, tag, desc] triple.
func (d *Document) element(v gson.JSON) *Element {
	if v.Nil() {
		return nil
	}
	parts := v.Arr()
	if len(parts) < 3 {
		return nil
	}
	id := parts[0].Int()

	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.elems[id]
	if !ok {
		el = &Element{doc: d, id: id, tag: parts[1].Str()}
		d.elems[id] = el
	}
	el.desc = parts[2].Str()
	return el
}

func (d *Document) elements(v gson.JSON) []dom.Element {
	items := v.Arr()
	out := make([]dom.Element, 0, len(items))
	for _, item := range items {
		if el := d.element(item); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// Element is a live element of a Document.
type Element struct {
	doc  *Document
	id   int
	tag  string
	desc string
}

var (
	_ dom.Element       = (*Element)(nil)
	_ dom.HandlerLister = (*Element)(nil)
)

// TagName returns the lower-case tag name.
func (e *Element) TagName() string { return e.tag }

// Attribute returns the attribute value. Probe failures read as absent.
func (e *Element) Attribute(name string) (string, bool) {
	v, err := e.doc.call("attr", e.id, name)
	if err != nil {
		return "", false
	}
	parts := v.Arr()
	if len(parts) < 2 || !parts[0].Bool() {
		return "", false
	}
	return parts[1].Str(), true
}

// HasHandler implements dom.Element.
func (e *Element) HasHandler(event string) (bool, error) {
	v, err := e.doc.call("hasHandler", e.id, event)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// Handlers returns every event with a bound listener.
func (e *Element) Handlers() ([]string, error) {
	v, err := e.doc.call("handlers", e.id)
	if err != nil {
		return nil, err
	}
	items := v.Arr()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Str())
	}
	return out, nil
}

// Query implements dom.Element.
func (e *Element) Query(selector string) ([]dom.Element, error) {
	v, err := e.doc.call("query", e.id, selector)
	if err != nil {
		return nil, err
	}
	return e.doc.elements(v), nil
}

// Matches implements dom.Element.
func (e *Element) Matches(selector string) (bool, error) {
	v, err := e.doc.call("matches", e.id, selector)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (e *Element) Value() (string, error) {
	v, err := e.doc.call("value", e.id)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (e *Element) SetValue(value string) error {
	_, err := e.doc.call("setValue", e.id, value)
	return err
}

func (e *Element) Checked() (bool, error) {
	v, err := e.doc.call("checked", e.id)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (e *Element) SetChecked(checked bool) error {
	_, err := e.doc.call("setChecked", e.id, checked)
	return err
}

// Dispatch fires a synthetic event built with the kind's constructor.
func (e *Element) Dispatch(kind dom.EventKind, name string) error {
	_, err := e.doc.call("dispatch", e.id, kind.Constructor(), name)
	return err
}

// Describe returns tag#id.class as of the last time the page reported
// the element.
func (e *Element) Describe() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.desc
}
