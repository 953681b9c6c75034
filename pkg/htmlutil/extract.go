package htmlutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// TokenKind selects how a token is located in a page.
type TokenKind int

const (
	// a <input type="hidden" name="..." value="..."> form field
	TOKEN_HIDDEN_INPUT TokenKind = iota
	// a `name = "value"` declaration inside inline script text
	TOKEN_SCRIPT_CONSTANT
)

func (k TokenKind) String() string {
	switch k {
	case TOKEN_HIDDEN_INPUT:
		return "hidden_input"
	case TOKEN_SCRIPT_CONSTANT:
		return "script_constant"
	}
	return "unknown"
}

// ErrTokenNotFound is wrapped by every Extract failure.
var ErrTokenNotFound = fmt.Errorf("token not found")

// Extract returns the value of the first token called name in the given markup.
// Names match exactly, there is no fuzzy matching.
func Extract(markup, name string, kind TokenKind) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return ExtractFromDocument(doc, name, kind)
}

// ExtractFromDocument is Extract for an already parsed document.
func ExtractFromDocument(doc *goquery.Document, name string, kind TokenKind) (string, error) {
	var value string
	switch kind {
	case TOKEN_HIDDEN_INPUT:
		value = hiddenInputValue(doc, name)
	case TOKEN_SCRIPT_CONSTANT:
		value = scriptConstantValue(doc, name)
	default:
		return "", fmt.Errorf("unknown token kind %d", kind)
	}
	if value == "" {
		return "", fmt.Errorf("%s %q: %w", kind, name, ErrTokenNotFound)
	}
	return value, nil
}

func hiddenInputValue(doc *goquery.Document, name string) string {
	var value string
	doc.Find("input[type]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		// attribute values of type are ascii case-insensitive
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("type", "")), "hidden") {
			return true
		}
		if s.AttrOr("name", "") != name {
			return true
		}
		value = s.AttrOr("value", "")
		return false
	})
	return value
}

var constantPatterns sync.Map

// the name must not be preceded by an identifier rune or a member access dot,
// so `SERVICE_INFO` will not match `window.SERVICE_INFO` or `OLD_SERVICE_INFO`.
// The value may contain backslash escapes.
func constantPattern(name string) *regexp.Regexp {
	cached, ok := constantPatterns.Load(name)
	if ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(
		`(?:^|[^\w$.])` + regexp.QuoteMeta(name) + `\s*=\s*"((?:[^"\\\n]|\\.)+)"`,
	)
	constantPatterns.Store(name, re)
	return re
}

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)

// inLineComment reports whether offset sits behind a `//` on its line. A `//`
// right after a colon is taken to be part of a url.
func inLineComment(text string, offset int) bool {
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	line := text[lineStart:offset]
	for i := strings.Index(line, "//"); i >= 0; {
		if i == 0 || line[i-1] != ':' {
			return true
		}
		next := strings.Index(line[i+2:], "//")
		if next < 0 {
			break
		}
		i += 2 + next
	}
	return false
}

func unescape(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	unquoted, err := strconv.Unquote(`"` + value + `"`)
	if err != nil {
		return value
	}
	return unquoted
}

func scriptConstantValue(doc *goquery.Document, name string) string {
	re := constantPattern(name)
	for _, script := range doc.Find("script:not([src])").Nodes {
		text := blockComment.ReplaceAllStringFunc(GetText(script), func(comment string) string {
			return strings.Repeat(" ", len(comment))
		})
		for _, match := range re.FindAllStringSubmatchIndex(text, -1) {
			start := match[0] + strings.Index(text[match[0]:], name)
			if inLineComment(text, start) {
				continue
			}
			return unescape(text[match[2]:match[3]])
		}
	}
	return ""
}

// FindSubmatch returns the first capture group of re in any inline script.
// It is for tokens whose shape is not a plain declaration, like arguments to
// a function call.
func FindSubmatch(markup string, re *regexp.Regexp) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return FindSubmatchInDocument(doc, re)
}

// FindSubmatchInDocument is FindSubmatch for an already parsed document.
func FindSubmatchInDocument(doc *goquery.Document, re *regexp.Regexp) (string, error) {
	for _, script := range doc.Find("script:not([src])").Nodes {
		groups := re.FindStringSubmatch(GetText(script))
		if len(groups) < 2 {
			continue
		}
		return groups[1], nil
	}
	return "", fmt.Errorf("pattern %s: %w", re.String(), ErrTokenNotFound)
}
