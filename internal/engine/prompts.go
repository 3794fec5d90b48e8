package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/rulesmith/internal/agent"
	"github.com/sells-group/rulesmith/internal/model"
)

// maxPromptDocLen caps how much of the document goes into a prompt. Locators
// for title/date/url live near the top of the page, and body openings are
// enough to anchor a pattern.
const maxPromptDocLen = 24000

const proposerSystem = `You write extraction rules for news-article pages. Given an HTML document,
propose one Go regular expression per field that locates the field's value in
this page and in future pages from the same source. Each pattern must put the
value in its first capture group.

Fields: title, body, date, canonical_url.

Respond with only a JSON object:
{"locators": {"title": "...", "body": "...", "date": "...", "canonical_url": "..."},
 "confidence": 0.0-1.0,
 "rationale": "one or two sentences"}`

const validatorSystem = `You review a proposed set of extraction locators for a news-article page.
Judge whether each regular expression would reliably locate its field on this
page and on future pages from the same source. The extracted values below show
what the patterns actually matched; empty means the pattern matched nothing.

Respond with only a JSON object:
{"locators": {},
 "confidence": 0.0-1.0,
 "rationale": "one or two sentences",
 "extraction_failed": true-or-false}

Set extraction_failed to true only when the patterns extract essentially
nothing usable from the page.`

func proposerPrompt(document string, current *model.ExtractionRule, exemplars []model.ExtractionRule, missing []model.Field, feedback string) agent.Request {
	var b strings.Builder

	if len(exemplars) > 0 {
		b.WriteString("Locator sets that work well on other sources:\n")
		for _, ex := range exemplars {
			if enc, err := json.Marshal(ex.Locators); err == nil {
				fmt.Fprintf(&b, "- %s: %s\n", ex.SourceID, enc)
			}
		}
		b.WriteString("\n")
	}

	if current != nil {
		if enc, err := json.Marshal(current.Locators); err == nil {
			fmt.Fprintf(&b, "The current rule stopped working: %s\n", enc)
		}
		if len(missing) > 0 {
			fmt.Fprintf(&b, "Fields it no longer extracts: %s\n", joinFields(missing))
		}
		b.WriteString("\n")
	}

	if feedback != "" {
		fmt.Fprintf(&b, "Previous attempt failed: %s\nPropose different patterns.\n\n", feedback)
	}

	b.WriteString("Document:\n")
	b.WriteString(truncate(document, maxPromptDocLen))

	return agent.Request{System: proposerSystem, Prompt: b.String()}
}

func validatorPrompt(document string, proposal *model.AgentProposal, extracted map[model.Field]string) agent.Request {
	var b strings.Builder

	if enc, err := json.Marshal(proposal.Locators); err == nil {
		fmt.Fprintf(&b, "Proposed locators: %s\n", enc)
	}
	fmt.Fprintf(&b, "Proposer rationale: %s\n\n", proposal.Rationale)

	b.WriteString("What the patterns extracted:\n")
	for _, f := range model.CoreFields {
		fmt.Fprintf(&b, "- %s: %s\n", f, truncate(extracted[f], 300))
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(truncate(document, maxPromptDocLen))

	return agent.Request{System: validatorSystem, Prompt: b.String()}
}

func joinFields(fields []model.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the cut never splits a UTF-8 sequence.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
