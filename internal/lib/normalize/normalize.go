// Package normalize приводит свободный текст к виду, в котором индексируются
// продукты и сравниваются запросы покупателей.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var punctuation = strings.NewReplacer("?", " ", ",", " ")

// * Normalize переводит в нижний регистр, заменяет '?' и ',' пробелами и
// убирает диакритику ("Perfumería" -> "perfumeria"). Руны без ASCII
// разложения отбрасываются. Не падает: при ошибке transform вход только
// переводится в нижний регистр
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)

	folded, _, err := transform.String(t, punctuation.Replace(text))
	if err != nil {
		return strings.ToLower(text)
	}

	return strings.TrimSpace(strings.ToLower(folded))
}

// Words делит нормализованный текст по пробелам.
func Words(text string) []string {
	return strings.Fields(Normalize(text))
}
