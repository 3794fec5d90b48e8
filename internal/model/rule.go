package model

import "time"

// Field names a logical article field an extraction rule knows how to locate.
type Field string

const (
	FieldTitle        Field = "title"
	FieldBody         Field = "body"
	FieldDate         Field = "date"
	FieldCanonicalURL Field = "canonical_url"
)

// CoreFields is the ordered set of fields every rule is expected to cover.
// Order matters: prompts and missing-field reports follow it.
var CoreFields = []Field{FieldTitle, FieldBody, FieldDate, FieldCanonicalURL}

// SourceType tags where a rule's locators came from.
type SourceType string

const (
	SourceTypeDiscovered SourceType = "discovered" // invented by the discovery engine
	SourceTypeRepaired   SourceType = "repaired"   // last touched by the repair engine
	SourceTypeMetadata   SourceType = "metadata"   // derived from embedded page metadata
	SourceTypeManual     SourceType = "manual"     // written via operator approve
)

// ExtractionRule maps logical fields to locators for one source. Locators are
// opaque strings interpreted by the extractor collaborator. At most one rule
// exists per source id; Upsert is the only path that mutates locators.
type ExtractionRule struct {
	SourceID     string           `json:"source_id" yaml:"source_id"`
	Locators     map[Field]string `json:"locators" yaml:"locators"`
	SourceType   SourceType       `json:"source_type" yaml:"source_type"`
	SuccessCount int              `json:"success_count" yaml:"success_count,omitempty"`
	FailureCount int              `json:"failure_count" yaml:"failure_count,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers can't mutate shared locator maps.
func (r *ExtractionRule) Clone() *ExtractionRule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Locators = make(map[Field]string, len(r.Locators))
	for k, v := range r.Locators {
		cp.Locators[k] = v
	}
	return &cp
}
