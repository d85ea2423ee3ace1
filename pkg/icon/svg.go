package icon

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// maxPasses bounds the strip-until-stable loop. Each pass can only shrink the
// input, so a handful is enough to unwrap nested constructs like
// "<scr<script></script>ipt>".
const maxPasses = 8

// nsPrefix matches an optional namespace prefix, as in "<h:script>" or
// "x:href", since any prefix may be bound to the XHTML or XLink namespace.
const nsPrefix = `(?:[a-z0-9_.-]+:)?`

// element strips every occurrence of one element class, self-closing forms
// first so a later paired match cannot swallow unrelated siblings.
type element struct {
	selfClosing *regexp.Regexp
	paired      *regexp.Regexp
	stray       *regexp.Regexp
}

func newElement(name string) element {
	return element{
		selfClosing: regexp.MustCompile(`(?is)<` + nsPrefix + name + `\b[^>]*/>`),
		paired:      regexp.MustCompile(`(?is)<` + nsPrefix + name + `\b[^>]*>.*?</` + nsPrefix + name + `\s*>`),
		stray:       regexp.MustCompile(`(?is)</?` + nsPrefix + name + `\b[^>]*>`),
	}
}

func (e element) strip(s string) string {
	s = e.selfClosing.ReplaceAllString(s, "")
	s = e.paired.ReplaceAllString(s, "")
	return e.stray.ReplaceAllString(s, "")
}

var (
	scriptElement = newElement("script")
	styleElement  = newElement("style")

	embeddingElements = []element{
		newElement("foreignObject"),
		newElement("iframe"),
		newElement("embed"),
		newElement("object"),
	}

	animationElements = []element{
		newElement("set"),
		newElement("animate[a-z]*"),
	}

	// The leading class keeps the separator so "<a x='1'onclick=..." and
	// "<svg/onload=..." are caught without eating the preceding attribute.
	eventHandlerAttr = regexp.MustCompile(`(?i)([\s/"'])` + nsPrefix + `on[a-z0-9_:.-]*\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]*)`)
	urlAttr          = regexp.MustCompile(`(?i)([\s/"'])(` + nsPrefix + `(?:href|src|action|formaction))\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	styleAttr        = regexp.MustCompile(`(?i)([\s/"'])style\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	useTag           = regexp.MustCompile(`(?is)<` + nsPrefix + `use\b[^>]*>`)
	useClose         = regexp.MustCompile(`(?is)</` + nsPrefix + `use\s*>`)
	hrefValue        = regexp.MustCompile(`(?i)(?:^|[\s/"'])` + nsPrefix + `href\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)

	// Presentation attributes that take a paint server or resource reference.
	presentationAttr = regexp.MustCompile(`(?i)([\s/"'])(` + nsPrefix + `(?:fill|stroke|filter|mask|clip-path|cursor|marker|marker-start|marker-mid|marker-end))\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	urlTarget        = regexp.MustCompile(`url\(['"]?([^'")]*)`)
)

// SanitizeSVG strips active content from an inline SVG and enforces the size
// ceiling on what remains.
func SanitizeSVG(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if !hasSVGPrefix(s) {
		return "", ErrNotSVG
	}

	stable := false
	for i := 0; i < maxPasses; i++ {
		next := stripPass(s)
		if next == s {
			stable = true
			break
		}
		s = next
	}
	if !stable {
		return "", ErrTooNested
	}

	s = strings.TrimSpace(s)
	if !hasSVGPrefix(s) {
		return "", ErrNotSVG
	}
	if len(s) > MaxSVGBytes {
		return "", ErrTooLarge
	}
	return s, nil
}

func hasSVGPrefix(s string) bool {
	return len(s) >= 4 && strings.EqualFold(s[:4], "<svg")
}

func stripPass(s string) string {
	s = scriptElement.strip(s)
	s = styleElement.strip(s)
	s = eventHandlerAttr.ReplaceAllString(s, "${1}")
	s = stripDangerousURLs(s)
	for _, e := range embeddingElements {
		s = e.strip(s)
	}
	for _, e := range animationElements {
		s = e.strip(s)
	}
	s = stripExternalUse(s)
	s = stripPresentationURLs(s)
	return stripStyleURLs(s)
}

func stripDangerousURLs(s string) string {
	return urlAttr.ReplaceAllStringFunc(s, func(match string) string {
		m := urlAttr.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if isDangerousURL(m[3]) {
			return m[1]
		}
		return match
	})
}

func stripStyleURLs(s string) string {
	return styleAttr.ReplaceAllStringFunc(s, func(match string) string {
		m := styleAttr.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		v := cssUnescape(normalizeAttr(m[2]))
		if strings.Contains(v, "url(") || strings.Contains(v, "expression(") || strings.Contains(v, "@import") {
			return m[1]
		}
		return match
	})
}

// stripPresentationURLs drops presentation attributes whose url() points
// anywhere but a fragment of the same document. url(#grad) stays.
func stripPresentationURLs(s string) string {
	return presentationAttr.ReplaceAllStringFunc(s, func(match string) string {
		m := presentationAttr.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		v := cssUnescape(normalizeAttr(m[3]))
		for _, u := range urlTarget.FindAllStringSubmatch(v, -1) {
			if !strings.HasPrefix(u[1], "#") {
				return m[1]
			}
		}
		return match
	})
}

// stripExternalUse removes <use> elements that reference anything other than
// a fragment of the same document.
func stripExternalUse(s string) string {
	locs := useTag.FindAllStringIndex(s, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		start, end := locs[i][0], locs[i][1]
		tag := s[start:end]
		m := hrefValue.FindStringSubmatch(tag)
		if m == nil {
			continue
		}
		if strings.HasPrefix(normalizeAttr(m[1]), "#") {
			continue
		}
		if !strings.HasSuffix(tag, "/>") {
			if c := useClose.FindStringIndex(s[end:]); c != nil {
				end += c[1]
			}
		}
		s = s[:start] + s[end:]
	}
	return s
}

func isDangerousURL(raw string) bool {
	v := normalizeAttr(raw)
	return strings.HasPrefix(v, "javascript:") ||
		strings.HasPrefix(v, "data:") ||
		strings.HasPrefix(v, "vbscript:")
}

// normalizeAttr unquotes an attribute value, decodes entities and drops the
// whitespace and control characters browsers ignore inside URL schemes.
func normalizeAttr(raw string) string {
	v := raw
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	v = html.UnescapeString(v)
	v = strings.Map(func(r rune) rune {
		if r <= 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, v)
	return strings.ToLower(v)
}

// cssUnescape resolves CSS backslash escapes ("u\\72l(" is "url(") so that
// escaped function names cannot slip past the url() check.
func cssUnescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		j := i + 1
		for j < len(s) && j-i <= 6 && isHex(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(s[j])
			i = j
			continue
		}
		if n, err := strconv.ParseUint(s[i+1:j], 16, 32); err == nil {
			b.WriteString(strings.ToLower(string(rune(n))))
		}
		i = j - 1
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
