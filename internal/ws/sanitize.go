package ws

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultColor      = "#FFFFFF"
	maxLanguageLength = 8
	maxLabelLength    = 32
)

var (
	ErrContentEmpty   = errors.New("content is empty")
	ErrContentTooLong = errors.New("content exceeds maximum length")

	colorPattern    = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,4})?$`)
)

// SanitizeText normalizes free text, strips control characters and escapes
// HTML. maxRunes applies to the text before escaping.
func SanitizeText(s string, maxRunes int) (string, error) {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if s == "" {
		return "", ErrContentEmpty
	}
	if utf8.RuneCountInString(s) > maxRunes {
		return "", ErrContentTooLong
	}
	return html.EscapeString(s), nil
}

// SanitizeLabel cleans short display strings such as usernames.
func SanitizeLabel(s string) string {
	out, err := SanitizeText(s, maxLabelLength)
	if err != nil {
		if errors.Is(err, ErrContentTooLong) {
			r := []rune(strings.TrimSpace(norm.NFC.String(s)))
			out, _ = SanitizeText(string(r[:maxLabelLength]), maxLabelLength)
			return out
		}
		return ""
	}
	return out
}

// SanitizeColor returns c when it is a #RRGGBB hex color, else the default.
func SanitizeColor(c string) string {
	if colorPattern.MatchString(c) {
		return c
	}
	return defaultColor
}

// SanitizeLanguage returns a lowercase language tag, or "" when invalid.
func SanitizeLanguage(l string) string {
	if len(l) > maxLanguageLength || !languagePattern.MatchString(l) {
		return ""
	}
	return strings.ToLower(l)
}
