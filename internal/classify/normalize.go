package classify

import (
	"strings"
	"unicode"
)

// NoIdentity is returned for text that yields no usable identity. The dedup
// store treats it as never stored, so it can never match an existing record.
const NoIdentity = ""

// maxIdentityLen caps the identity at 100 runes.
const maxIdentityLen = 100

// minDigitRun is the shortest digit run that qualifies a line as the item line.
const minDigitRun = 5

// Normalize extracts the canonical item identity from free-form message text.
// It picks the first line that looks like the relayed item (numeric content),
// skipping status lines and contact/link noise. Falls back to the first 100
// runes of the whole text; empty input yields NoIdentity. Deterministic and
// pure: identical input always yields the identical identity.
func (c *Classifier) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return NoIdentity
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || c.isStatusLine(line) {
			continue
		}
		if strings.Contains(line, "@") || strings.Contains(line, "http") || strings.Contains(line, "www.") {
			continue
		}
		if isItemLine(line) {
			return truncateRunes(line, maxIdentityLen)
		}
	}

	return truncateRunes(strings.TrimSpace(text), maxIdentityLen)
}

// isItemLine reports whether a line carries the relayed item: all digits
// (spaces ignored), digit-leading with length over 5, or a run of 5+ digits.
func isItemLine(line string) bool {
	runes := []rune(line)
	if allDigits(strings.ReplaceAll(line, " ", "")) {
		return true
	}
	if unicode.IsDigit(runes[0]) && len(runes) > minDigitRun {
		return true
	}
	return longestDigitRun(runes) >= minDigitRun
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func longestDigitRun(runes []rune) int {
	longest, run := 0, 0
	for _, r := range runes {
		if unicode.IsDigit(r) {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(runes[:n]))
}
