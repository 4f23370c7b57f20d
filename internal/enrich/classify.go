package enrich

import (
	"strings"

	"github.com/jusbridge/casesync/pkg/judit"
)

// typeKeywords maps substrings of tribunal vocabulary to the case types the
// product exposes. Matching is accent-insensitive on the common variants.
var typeKeywords = []struct {
	needle   string
	caseType string
}{
	{"trabalh", "labor"},
	{"tribut", "tax"},
	{"fiscal", "tax"},
	{"execucao fiscal", "tax"},
	{"penal", "criminal"},
	{"crim", "criminal"},
	{"famil", "family"},
	{"alimentos", "family"},
	{"divorcio", "family"},
	{"consumidor", "consumer"},
	{"previdenc", "social_security"},
	{"civel", "civil"},
	{"civil", "civil"},
}

// Classify infers the case type from a lawsuit payload. It prefers the
// tribunal's structured classification, falls back to free-text subject
// matching, and returns "" when neither yields a type so the caller leaves
// the existing value untouched.
func Classify(ls *judit.Lawsuit) string {
	for _, c := range ls.Classifications {
		if t := keywordType(c.Name); t != "" {
			return t
		}
	}
	for _, s := range ls.Subjects {
		if t := keywordType(s.Name); t != "" {
			return t
		}
	}
	return ""
}

func keywordType(text string) string {
	normalized := normalizeText(text)
	if normalized == "" {
		return ""
	}
	for _, kw := range typeKeywords {
		if strings.Contains(normalized, kw.needle) {
			return kw.caseType
		}
	}
	return ""
}

// normalizeText lowercases and strips the accented vowels and cedilla that
// appear in tribunal class names, so keyword needles can stay plain ASCII.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		"á", "a", "à", "a", "ã", "a", "â", "a",
		"é", "e", "ê", "e",
		"í", "i",
		"ó", "o", "õ", "o", "ô", "o",
		"ú", "u",
		"ç", "c",
	)
	return replacer.Replace(s)
}
