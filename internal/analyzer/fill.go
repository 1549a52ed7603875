package analyzer

import (
	"errors"
	"strconv"
	"strings"

	"github.com/PentesterFlow/PageProbe/internal/dom"
)

const fillSelector = "input, select, textarea"

// skipped input types carry no user-editable value
var skipInputTypes = map[string]bool{
	"hidden": true,
	"file":   true,
	"button": true,
	"submit": true,
	"reset":  true,
	"image":  true,
}

func (a *Analyzer) fillValues(el dom.Element, _ []dom.Element) error {
	if !a.cfg.FillValues {
		return nil
	}
	fields, err := dom.SelfMatching(el, fillSelector)
	if err != nil {
		return err
	}

	var errs []error
	for _, f := range fields {
		filled, err := a.fill(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if filled {
			a.schedule(dom.PageEvent{Element: f, Name: "input"})
		}
	}
	return errors.Join(errs...)
}

// fill sets a synthetic value on one form control.
func (a *Analyzer) fill(f dom.Element) (bool, error) {
	name, _ := f.Attribute("name")

	switch f.TagName() {
	case "textarea":
		return true, f.SetValue(a.values.Value(a.textCategory(name)))

	case "select":
		options, err := f.Query("option")
		if err != nil {
			return false, err
		}
		if len(options) > 1 {
			v, err := options[len(options)-1].Value()
			if err != nil {
				return false, err
			}
			return true, f.SetValue(v)
		}
		return true, f.SetValue(a.values.Value(categoryFor(a.rules, name, "")))

	case "input":
		typ, _ := f.Attribute("type")
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "" {
			typ = "text"
		}
		switch {
		case skipInputTypes[typ]:
			return false, nil
		case typ == "checkbox" || typ == "radio":
			checked, err := f.Checked()
			if err != nil {
				return false, err
			}
			return true, f.SetChecked(!checked)
		case typ == "number" || typ == "range":
			return true, f.SetValue(a.numberValue(f))
		default:
			return true, f.SetValue(a.values.Value(categoryFor(a.rules, name, typ)))
		}
	}
	return false, nil
}

func (a *Analyzer) textCategory(name string) Category {
	if c := categoryFor(a.rules, name, ""); c != CategoryString {
		return c
	}
	return CategoryText
}

// numberValue steps up from the min attribute. Without a usable min the
// number category is used.
func (a *Analyzer) numberValue(f dom.Element) string {
	minAttr, ok := f.Attribute("min")
	if !ok {
		return a.values.Value(CategoryNumber)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(minAttr), 64)
	if err != nil {
		return a.values.Value(CategoryNumber)
	}

	step := 1.0
	if s, ok := f.Attribute("step"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && v > 0 {
			step = v
		}
	}

	v := lo + step
	if maxAttr, ok := f.Attribute("max"); ok {
		if hi, err := strconv.ParseFloat(strings.TrimSpace(maxAttr), 64); err == nil && v > hi {
			v = lo
		}
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
