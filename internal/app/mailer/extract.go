package mailer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// codePattern matches a bare six digit run. RE2 has no lookbehind,
// so the preceding character is checked in Extract.
var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// Extractor finds verification codes in message text.
type Extractor struct{}

// Extract returns the first six digit code in body which is not preceded
// by a letter, '@' or '.'. Occurrences of account are removed first, so
// digits of the recipient address itself are never returned.
func (Extractor) Extract(body, account string) (string, bool) {
	if account != "" {
		body = strings.ReplaceAll(body, account, "")
	}
	// Full-width digits (e.g. "１２３４５６") become ASCII.
	body = norm.NFKC.String(body)

	for _, loc := range codePattern.FindAllStringIndex(body, -1) {
		if loc[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(body[:loc[0]])
			if unicode.IsLetter(prev) || prev == '@' || prev == '.' {
				continue
			}
		}

		return body[loc[0]:loc[1]], true
	}

	return "", false
}
