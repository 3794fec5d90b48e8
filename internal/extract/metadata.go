package extract

import "github.com/sells-group/rulesmith/internal/model"

// MetadataLocators targets embedded page metadata: JSON-LD article properties
// first, OpenGraph meta tags as the alternation fallback. Pages carrying
// well-formed metadata can be ruled without any inference call; rules built
// from these locators are tagged SourceTypeMetadata.
func MetadataLocators() map[model.Field]string {
	return map[model.Field]string{
		model.FieldTitle: `"headline"\s*:\s*"([^"]+)"` +
			`|<meta\s+property="og:title"\s+content="([^"]+)"`,
		model.FieldBody: `"articleBody"\s*:\s*"((?:[^"\\]|\\.)+)"`,
		model.FieldDate: `"datePublished"\s*:\s*"([^"]+)"` +
			`|<meta\s+property="article:published_time"\s+content="([^"]+)"`,
		model.FieldCanonicalURL: `<link\s+rel="canonical"\s+href="([^"]+)"` +
			`|<meta\s+property="og:url"\s+content="([^"]+)"` +
			`|"mainEntityOfPage"\s*:\s*"([^"]+)"`,
	}
}
