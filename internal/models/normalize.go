/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitleField lowercases, strips diacritics, and collapses whitespace
// so anti-repeat comparisons treat "Sigur Rós" and "sigur ros" as one artist.
func NormalizeTitleField(value string) string {
	folded, _, err := transform.String(diacriticFolder, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}
