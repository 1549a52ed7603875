package analyzer

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// extract reports links and forms found in the subtree. Unparseable
// targets are dropped.
func (a *Analyzer) extract(el dom.Element, _ []dom.Element) error {
	var errs []error

	links, err := dom.SelfMatching(el, "a[href], area[href]")
	if err != nil {
		errs = append(errs, err)
	}
	for _, l := range links {
		href, _ := l.Attribute("href")
		req, err := request.New(request.TypeLink, "GET", strings.TrimSpace(href), a.doc.URL(), "")
		if err != nil {
			a.log.WithError(err).Debug("dropping link")
			continue
		}
		a.sched.Report(req)
	}

	forms, err := dom.SelfMatching(el, "form")
	if err != nil {
		errs = append(errs, err)
	}
	for _, f := range forms {
		req, err := a.formRequest(f)
		if err != nil {
			a.log.WithError(err).Debug("dropping form")
			continue
		}
		if req != nil {
			a.sched.Report(req)
		}
	}
	return errors.Join(errs...)
}

// formRequest serializes a form into a request. GET forms carry the data
// in the query string, every other method in the body.
func (a *Analyzer) formRequest(form dom.Element) (*request.Request, error) {
	method, _ := form.Attribute("method")
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	if method == "DIALOG" {
		return nil, nil
	}

	action, _ := form.Attribute("action")
	action = strings.TrimSpace(action)
	if action == "" {
		action = a.doc.URL()
	}

	data, err := SerializeForm(form)
	if err != nil {
		return nil, err
	}

	if method == "GET" {
		target, err := request.Normalize(request.TypeForm, action, a.doc.URL())
		if err != nil {
			return nil, err
		}
		return request.New(request.TypeForm, method, foldQuery(target, data), "", "")
	}
	return request.New(request.TypeForm, method, action, a.doc.URL(), data)
}

// SerializeForm URL-encodes the named, successful controls of form in
// document order.
func SerializeForm(form dom.Element) (string, error) {
	fields, err := form.Query("input, select, textarea")
	if err != nil {
		return "", err
	}

	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		name, ok := f.Attribute("name")
		if !ok || name == "" {
			continue
		}
		if _, disabled := f.Attribute("disabled"); disabled {
			continue
		}
		if f.TagName() == "input" {
			typ, _ := f.Attribute("type")
			typ = strings.ToLower(strings.TrimSpace(typ))
			switch typ {
			case "button", "submit", "reset", "image", "file":
				continue
			case "checkbox", "radio":
				checked, err := f.Checked()
				if err != nil {
					return "", err
				}
				if !checked {
					continue
				}
			}
		}
		value, err := f.Value()
		if err != nil {
			return "", err
		}
		pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(value))
	}
	return strings.Join(pairs, "&"), nil
}

// foldQuery replaces the query of target with data, as a browser does
// when it submits a GET form.
func foldQuery(target, data string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = data
	return u.String()
}
