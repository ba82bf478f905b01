// Package i18n resolves client locales against the supported catalog set.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// BaseLocale is the canonical source locale for catalogs.
const BaseLocale = "en-US"

var supported = []language.Tag{
	language.AmericanEnglish,     // en-US
	language.BrazilianPortuguese, // pt-BR
}

var matcher = language.NewMatcher(supported)

// SupportedTags returns the list of supported language tags.
func SupportedTags() []language.Tag {
	out := make([]language.Tag, len(supported))
	copy(out, supported)
	return out
}

// DefaultTag returns the default language tag.
func DefaultTag() language.Tag {
	return supported[0]
}

// ParseTag parses a single locale value against the supported set.
// The bool reports whether the value matched a supported locale.
func ParseTag(value string) (language.Tag, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultTag(), false
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return DefaultTag(), false
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return DefaultTag(), false
	}
	return supported[index], true
}

// MatchAcceptLanguage resolves an Accept-Language header to a supported tag.
func MatchAcceptLanguage(header string) language.Tag {
	if strings.TrimSpace(header) == "" {
		return DefaultTag()
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return DefaultTag()
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return DefaultTag()
	}
	return supported[index]
}
