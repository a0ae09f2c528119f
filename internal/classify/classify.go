// Package classify holds the text pipeline that decides whether a post is
// forwarded: the condition classifier and the content normalizer that derives
// the dedup identity. Both are pure functions over text; the phrase sets are
// data so deployments can adjust them without a rebuild.
package classify

import "strings"

// Variant tags which condition pattern a matched post satisfied.
type Variant string

const (
	// VariantNone means the post did not match any condition.
	VariantNone Variant = ""
	// VariantNoSession is a status line with the positive glyph and the
	// no-session phrase (and not the has-session phrase).
	VariantNoSession Variant = "no_session"
	// VariantAccessed is a status line carrying an access-completed phrase.
	VariantAccessed Variant = "accessed"
)

// Rules holds the status-line markers and phrase sets the classifier matches.
type Rules struct {
	// StatusMarkers mark a line as the status line; such lines are also
	// excluded from identity extraction.
	StatusMarkers []string
	// PositiveGlyph must appear on the status line for VariantNoSession.
	PositiveGlyph string
	// NoSessionPhrase selects VariantNoSession.
	NoSessionPhrase string
	// HasSessionPhrase vetoes VariantNoSession when present, so a superset
	// phrase is never misread as the subset phrase.
	HasSessionPhrase string
	// AccessedPhrases select VariantAccessed; listed spellings are equivalent.
	AccessedPhrases []string
}

// DefaultRules returns the production phrase set.
func DefaultRules() Rules {
	return Rules{
		StatusMarkers:    []string{"الحالة", "الـحـالـة"},
		PositiveGlyph:    "✅",
		NoSessionPhrase:  "بدون جلسة",
		HasSessionPhrase: "لديه جلسة",
		AccessedPhrases:  []string{"✅ تم الوصول", "✅ تـم الـوصـول"},
	}
}

// Classifier evaluates posts against a rule set.
type Classifier struct {
	rules Rules
}

// NewClassifier creates a classifier; zero-valued rule fields fall back to defaults.
func NewClassifier(rules Rules) *Classifier {
	def := DefaultRules()
	if len(rules.StatusMarkers) == 0 {
		rules.StatusMarkers = def.StatusMarkers
	}
	if rules.PositiveGlyph == "" {
		rules.PositiveGlyph = def.PositiveGlyph
	}
	if rules.NoSessionPhrase == "" {
		rules.NoSessionPhrase = def.NoSessionPhrase
	}
	if rules.HasSessionPhrase == "" {
		rules.HasSessionPhrase = def.HasSessionPhrase
	}
	if len(rules.AccessedPhrases) == 0 {
		rules.AccessedPhrases = def.AccessedPhrases
	}
	return &Classifier{rules: rules}
}

// Classify reports whether text matches a forwarding condition and which
// variant it represents. Lines are scanned in document order; the first
// qualifying status line wins. Pure and total: never errors, never panics.
func (c *Classifier) Classify(text string) (bool, Variant) {
	if text == "" {
		return false, VariantNone
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !c.isStatusLine(line) {
			continue
		}
		if strings.Contains(line, c.rules.PositiveGlyph) &&
			strings.Contains(line, c.rules.NoSessionPhrase) &&
			!strings.Contains(line, c.rules.HasSessionPhrase) {
			return true, VariantNoSession
		}
		for _, phrase := range c.rules.AccessedPhrases {
			if strings.Contains(line, phrase) {
				return true, VariantAccessed
			}
		}
	}
	return false, VariantNone
}

func (c *Classifier) isStatusLine(line string) bool {
	for _, marker := range c.rules.StatusMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
