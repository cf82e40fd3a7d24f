package sandbox

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/phishlense/phishlense/internal/threat"
)

// Decoy values injected into discovered forms. Synthetic by construction;
// submitting them provokes and observes server-side credential handling
// without risking anything real.
const (
	decoyEmail    = "sandbox_test_user@phishlense.com"
	decoyPassword = "FakePassword123!"
	decoyCard     = "4111111111111111"
	decoyCVV      = "123"
	decoyPhone    = "+1-555-0100"
)

// formInfo is a parsed <form> element with enough field detail to both
// describe and fill it.
type formInfo struct {
	action string
	method string
	fields []fieldInfo
}

type fieldInfo struct {
	name     string
	ftype    string
	value    string
	required bool
	checked  bool
}

func (f formInfo) descriptor() threat.FormDescriptor {
	desc := threat.FormDescriptor{
		Action: f.action,
		Method: f.method,
		Fields: []threat.FormField{},
	}
	for _, field := range f.fields {
		desc.Fields = append(desc.Fields, threat.FormField{
			Name:     field.name,
			Type:     field.ftype,
			Required: field.required,
		})
	}
	return desc
}

// parseForms extracts every form element with its input/textarea/select
// fields from an HTML document. A parse failure yields no forms; the probe
// continues with the page signature scan.
func parseForms(body string) []formInfo {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var forms []formInfo
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, parseForm(n))
			return // nested forms are invalid HTML; take the outer one
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return forms
}

func parseForm(formNode *html.Node) formInfo {
	form := formInfo{
		action: attr(formNode, "action"),
		method: strings.ToUpper(attr(formNode, "method")),
	}
	if form.method == "" {
		form.method = http.MethodGet
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input", "textarea", "select":
				ftype := strings.ToLower(attr(n, "type"))
				if ftype == "" {
					ftype = "text"
				}
				form.fields = append(form.fields, fieldInfo{
					name:     attr(n, "name"),
					ftype:    ftype,
					value:    attr(n, "value"),
					required: hasAttr(n, "required"),
					checked:  hasAttr(n, "checked"),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(formNode)
	return form
}

// fillForm synthesizes a decoy payload for the form. Only named fields can
// be submitted; unchecked checkbox/radio inputs are omitted entirely.
func fillForm(form formInfo) url.Values {
	payload := url.Values{}
	for _, field := range form.fields {
		if field.name == "" {
			continue
		}
		value, include := fillValue(field)
		if include {
			payload.Set(field.name, value)
		}
	}
	return payload
}

// fillValue picks the decoy for one field. Name-category heuristics take
// precedence over the declared type; hidden fields copy their declared value
// so server-side tokens survive the round trip.
func fillValue(field fieldInfo) (string, bool) {
	name := strings.ToLower(field.name)

	switch {
	case containsAny(name, "email", "username", "user", "login"):
		return decoyEmail, true
	case containsAny(name, "password", "pwd", "pass"):
		return decoyPassword, true
	case containsAny(name, "card", "credit", "cvv", "cvc"):
		if strings.Contains(name, "card") {
			return decoyCard, true
		}
		return decoyCVV, true
	case containsAny(name, "phone", "mobile", "tel"):
		return decoyPhone, true
	case field.ftype == "hidden":
		return field.value, true
	case field.ftype == "checkbox" || field.ftype == "radio":
		if !field.checked {
			return "", false
		}
		if field.value == "" {
			return "on", true
		}
		return field.value, true
	default:
		if field.name == "" {
			return "test_value", true
		}
		return "test_" + field.name, true
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}
