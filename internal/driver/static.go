package driver

import (
	"context"
	"sync/atomic"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/dom/htmldom"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// StaticEnvironment hosts a parsed HTML document. Nothing runs on the page
// except Go listeners registered on the document, so Settle returns at once.
type StaticEnvironment struct {
	doc     *htmldom.Document
	mb      *Mailbox
	nextRef atomic.Int64
}

var _ Environment = (*StaticEnvironment)(nil)

// NewStaticEnvironment wires doc's mutation observer to a new mailbox.
func NewStaticEnvironment(doc *htmldom.Document) *StaticEnvironment {
	env := &StaticEnvironment{doc: doc, mb: NewMailbox()}
	doc.Observe(func(batch []dom.Mutation) {
		env.mb.Post(Notification{Kind: Mutation, Mutations: batch})
	})
	return env
}

// Document implements Environment.
func (e *StaticEnvironment) Document() dom.Document { return e.doc }

// HTML returns the underlying document.
func (e *StaticEnvironment) HTML() *htmldom.Document { return e.doc }

// Settle implements Environment.
func (e *StaticEnvironment) Settle(ctx context.Context) error {
	return ctx.Err()
}

// Notifications implements Environment.
func (e *StaticEnvironment) Notifications() *Mailbox { return e.mb }

// SendRequest reports r as observed and marks it in flight. The returned
// ref is passed to CompleteRequest.
func (e *StaticEnvironment) SendRequest(r *request.Request) int64 {
	ref := e.nextRef.Add(1)
	e.mb.Post(Notification{Kind: Found, Request: r})
	e.mb.Post(Notification{Kind: RequestSent, Ref: ref})
	return ref
}

// CompleteRequest marks ref as finished.
func (e *StaticEnvironment) CompleteRequest(ref int64) {
	e.mb.Post(Notification{Kind: RequestCompleted, Ref: ref})
}

// Navigate reports a navigation attempt.
func (e *StaticEnvironment) Navigate(rawURL string) {
	e.mb.Post(Notification{Kind: Navigation, URL: rawURL})
}

// Fail reports that the environment went away.
func (e *StaticEnvironment) Fail(err error) {
	e.mb.Post(Notification{Kind: Failure, Err: err})
}
