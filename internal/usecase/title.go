package usecase

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// contractTitle renders a workflow contract type such as "compraventa_inmueble"
// as "Contrato de Compraventa Inmueble".
func contractTitle(kind string) string {
	kind = strings.Join(strings.Fields(strings.ReplaceAll(kind, "_", " ")), " ")
	if kind == "" {
		return ""
	}
	// A Caser carries state; one per call.
	return "Contrato de " + cases.Title(language.Spanish).String(kind)
}

// truncateRunes shortens s to at most n runes, appending ellipsis when cut.
func truncateRunes(s string, n int, ellipsis string) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + ellipsis
}
