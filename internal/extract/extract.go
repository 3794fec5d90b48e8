// Package extract interprets rule locators against raw documents. Locators
// are regular expressions; the first non-empty capture group wins, so a
// locator can carry alternation with one group per branch.
package extract

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/model"
)

// Extractor applies a locator set to a document. Implementations never error:
// a locator that fails to match simply yields no value for its field.
type Extractor interface {
	Extract(document string, locators map[model.Field]string) map[model.Field]string
}

// Regex is the default Extractor. Compiled patterns are cached; an invalid
// pattern is logged once and treated as non-matching.
type Regex struct {
	cache sync.Map // pattern string → *regexp.Regexp (nil for invalid)
}

// NewRegex returns the default regex-locator extractor.
func NewRegex() *Regex {
	return &Regex{}
}

// Extract runs every locator against the document. Fields whose locator does
// not match (or does not compile) are absent from the result.
func (e *Regex) Extract(document string, locators map[model.Field]string) map[model.Field]string {
	fields := make(map[model.Field]string, len(locators))
	for field, pattern := range locators {
		if val := e.match(document, pattern); val != "" {
			fields[field] = val
		}
	}
	return fields
}

func (e *Regex) match(document, pattern string) string {
	re := e.compile(pattern)
	if re == nil {
		return ""
	}

	m := re.FindStringSubmatch(document)
	if m == nil {
		return ""
	}
	// First non-empty capture group, else the whole match.
	for _, g := range m[1:] {
		if strings.TrimSpace(g) != "" {
			return strings.TrimSpace(g)
		}
	}
	return strings.TrimSpace(m[0])
}

func (e *Regex) compile(pattern string) *regexp.Regexp {
	if cached, ok := e.cache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		zap.L().Warn("invalid locator pattern",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		re = nil
	}
	e.cache.Store(pattern, re)
	return re
}
