// Package dom defines the element contract shared by the scheduler, the
// analyzer and the environments that host a page.
package dom

import "fmt"

// Element is one node of the probed document.
//
// Environments must hand out a single canonical Element value per
// underlying node so that interface equality means node identity.
type Element interface {
	// TagName returns the lower-case tag name.
	TagName() string
	// Attribute returns the attribute value and whether it is present.
	Attribute(name string) (string, bool)
	// HasHandler reports whether a listener for the event is bound to the
	// element, either as an on<event> property or through the
	// environment's own listener tracking.
	HasHandler(event string) (bool, error)
	// Query returns the descendants matching a CSS selector in document order.
	Query(selector string) ([]Element, error)
	// Matches reports whether the element itself matches a CSS selector.
	Matches(selector string) (bool, error)

	Value() (string, error)
	SetValue(value string) error
	Checked() (bool, error)
	SetChecked(checked bool) error

	// Dispatch fires a synthetic event of the given kind on the element.
	Dispatch(kind EventKind, name string) error
	// Describe returns a short selector-like label such as "a#home.nav".
	Describe() string
}

// HandlerLister is implemented by elements that can enumerate their bound
// listeners in one call. Callers fall back to HasHandler otherwise.
type HandlerLister interface {
	Handlers() ([]string, error)
}

// Document is the page the scheduler works on.
type Document interface {
	// URL returns the current document location.
	URL() string
	// Root returns the document element.
	Root() (Element, error)
}

// PageEvent pairs an element and an event name. Two PageEvents are equal
// iff both fields are equal, so the type can be used as a map key.
type PageEvent struct {
	Element Element
	Name    string
}

// String implements fmt.Stringer.
func (e PageEvent) String() string {
	if e.Element == nil {
		return e.Name
	}
	return fmt.Sprintf("%s %s", e.Element.Describe(), e.Name)
}

// MutationKind classifies a mutation record.
type MutationKind int

const (
	// Added means a node was inserted into the document.
	Added MutationKind = iota
	// AttributeChanged means an attribute of an element changed.
	AttributeChanged
)

func (k MutationKind) String() string {
	if k == AttributeChanged {
		return "attributes"
	}
	return "added"
}

// Mutation is one DOM change delivered by the mutation feed. Element is
// nil when an added node is not an element (text, comment).
type Mutation struct {
	Kind      MutationKind
	Element   Element
	Attribute string
}

// Describe returns the label of el, or "-" for nil.
func Describe(el Element) string {
	if el == nil {
		return "-"
	}
	return el.Describe()
}

// Self returns el followed by every descendant of el, in document order.
func Self(el Element) ([]Element, error) {
	desc, err := el.Query("*")
	if err != nil {
		return []Element{el}, err
	}
	all := make([]Element, 0, len(desc)+1)
	all = append(all, el)
	return append(all, desc...), nil
}

// SelfMatching returns el (when it matches) followed by its matching
// descendants.
func SelfMatching(el Element, selector string) ([]Element, error) {
	var out []Element
	ok, err := el.Matches(selector)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, el)
	}
	desc, err := el.Query(selector)
	if err != nil {
		return out, err
	}
	return append(out, desc...), nil
}
