// Package readiness parses the conditions that decide when a page is ready
// to be captured.
package readiness

import (
	"fmt"
	"strings"
)

// Kind tells how a readiness condition is matched against the page
type Kind int

const (
	// CSS matches a CSS selector
	CSS Kind = iota
	// XPath matches an XPath expression
	XPath
	// Text matches an element by its rendered text; text conditions are
	// compiled to XPath before they reach the browser
	Text
)

func (k Kind) String() string {
	switch k {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"

	// Elements whose text is never rendered as page content
	hiddenContent = "self::script or self::style or self::noscript or self::template"
)

// Condition is a parsed readiness condition
type Condition struct {
	Raw      string
	Kind     Kind
	Selector string // CSS or XPath sent to the browser
}

// Parse understands the selector forms used by browser test tools:
//
//	text=Start Game     case-insensitive substring of an element's text
//	text="Start Game"   exact text
//	css=#menu .start    CSS selector
//	xpath=//button      XPath expression
//	//button, (//a)[1]  XPath expression
//	#menu .start        CSS selector
func Parse(raw string) (Condition, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Condition{}, fmt.Errorf("empty readiness condition")
	}

	engine, body, found := strings.Cut(s, "=")
	if found {
		body = strings.TrimSpace(body)
		switch strings.ToLower(strings.TrimSpace(engine)) {
		case "text":
			if body == "" {
				return Condition{}, fmt.Errorf("readiness condition %q has no text", raw)
			}
			return Condition{Raw: s, Kind: Text, Selector: textXPath(body)}, nil
		case "css":
			if body == "" {
				return Condition{}, fmt.Errorf("readiness condition %q has no selector", raw)
			}
			return Condition{Raw: s, Kind: CSS, Selector: body}, nil
		case "xpath":
			if body == "" {
				return Condition{}, fmt.Errorf("readiness condition %q has no expression", raw)
			}
			return Condition{Raw: s, Kind: XPath, Selector: body}, nil
		}
	}

	if strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(") {
		return Condition{Raw: s, Kind: XPath, Selector: s}, nil
	}
	return Condition{Raw: s, Kind: CSS, Selector: s}, nil
}

// String returns the condition as the user wrote it
func (c Condition) String() string {
	return c.Raw
}

// textXPath compiles a text= body into XPath. A quoted body is an exact
// match on whitespace-normalised text, otherwise a case-insensitive
// substring match.
//
// The match runs on an element's whole text, so text split over child
// elements or adjacent text nodes still matches. Only the deepest matching
// elements under <body> are returned, and an element is skipped when any
// descendant matches; that also drops containers whose match comes from an
// inline script such as a framework's hydration payload.
func textXPath(body string) string {
	var pred string
	if len(body) >= 2 && (body[0] == '"' || body[0] == '\'') && body[0] == body[len(body)-1] {
		exact := normalizeSpace(body[1 : len(body)-1])
		pred = fmt.Sprintf("normalize-space(.)=%s", xpathLiteral(exact))
	} else {
		needle := strings.ToLower(normalizeSpace(body))
		pred = fmt.Sprintf("contains(translate(normalize-space(.), '%s', '%s'), %s)",
			upperASCII, lowerASCII, xpathLiteral(needle))
	}

	return fmt.Sprintf("//body//*[not(%[1]s)][not(ancestor::*[%[1]s])][%[2]s][not(descendant::*[%[2]s])]",
		hiddenContent, pred)
}

// normalizeSpace mirrors XPath normalize-space()
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// xpathLiteral quotes s as an XPath string literal. XPath 1.0 has no
// escapes, so text holding both quote kinds is built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}

	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if part != "" {
			args = append(args, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}
