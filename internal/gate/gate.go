// Package gate scores an extraction attempt without any external calls.
package gate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/rulesmith/internal/model"
)

// Weights configures the scoring rubric. Zero-value fields fall back to the
// defaults in DefaultWeights; the total is capped at 100 regardless.
type Weights struct {
	Title int `json:"title" mapstructure:"title_weight"`
	Body  int `json:"body" mapstructure:"body_weight"`
	Date  int `json:"date" mapstructure:"date_weight"`
	URL   int `json:"url" mapstructure:"url_weight"`
}

// DefaultWeights returns the standard rubric: title 25, body 50, date 15, url 10.
func DefaultWeights() Weights {
	return Weights{Title: 25, Body: 50, Date: 15, URL: 10}
}

const (
	minTitleLen = 10

	// Body length tiers. Full weight at 500+ chars, partial at 200+, minimal
	// at 100+. Below 100 the body scores nothing.
	bodyFullLen    = 500
	bodyPartialLen = 200
	bodyMinimalLen = 100
)

// looseDate matches numeric-ish dates: 2024-01-15, 15/01/2024, Jan 15, 2024,
// 20240115T…, unix-ish digit runs. Deliberately loose — the gate judges
// presence, not parseability.
var looseDate = regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}|\b\d{1,2},?\s+\d{4}\b|\d{8,}`)

var urlish = regexp.MustCompile(`^https?://\S+$`)

// Score evaluates extracted fields against the rubric and returns a 0–100
// score plus the ordered list of missing fields. Pure: same input always
// yields the same output, malformed fields simply score zero, and it never
// errors.
func Score(fields map[model.Field]string, w Weights) (int, []model.Field) {
	if w == (Weights{}) {
		w = DefaultWeights()
	}

	score := 0
	var missing []model.Field

	for _, f := range model.CoreFields {
		val := normalize(fields[f])
		pts := fieldScore(f, val, w)
		if pts == 0 {
			missing = append(missing, f)
			continue
		}
		score += pts
	}

	if score > 100 {
		score = 100
	}
	return score, missing
}

func fieldScore(f model.Field, val string, w Weights) int {
	if val == "" {
		return 0
	}
	switch f {
	case model.FieldTitle:
		if utf8.RuneCountInString(val) >= minTitleLen {
			return w.Title
		}
	case model.FieldBody:
		n := utf8.RuneCountInString(val)
		switch {
		case n >= bodyFullLen:
			return w.Body
		case n >= bodyPartialLen:
			return w.Body * 3 / 5
		case n >= bodyMinimalLen:
			return w.Body * 3 / 10
		}
	case model.FieldDate:
		if looseDate.MatchString(val) {
			return w.Date
		}
	case model.FieldCanonicalURL:
		if urlish.MatchString(val) {
			return w.URL
		}
	}
	return 0
}

// normalize collapses the field value to NFC and trims surrounding
// whitespace so length checks aren't skewed by combining characters or
// scraped padding.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
