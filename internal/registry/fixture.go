package registry

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rulesmith/internal/model"
)

// seedFile is the on-disk shape of a rule fixture.
type seedFile struct {
	Rules []model.ExtractionRule `yaml:"rules"`
}

// SeedFromFile loads rules from a YAML fixture and upserts them. Existing
// rules for the same source ids are overwritten. Returns the number of rules
// written.
func (r *Registry) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "registry: read seed file %s", path)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, eris.Wrapf(err, "registry: parse seed file %s", path)
	}

	written := 0
	for i := range seed.Rules {
		rule := &seed.Rules[i]
		if rule.SourceType == "" {
			rule.SourceType = model.SourceTypeManual
		}
		if err := r.Upsert(ctx, rule); err != nil {
			return written, eris.Wrapf(err, "registry: seed rule %s", rule.SourceID)
		}
		written++
	}

	zap.L().Info("registry: seeded rules from fixture",
		zap.String("path", path),
		zap.Int("count", written),
	)
	return written, nil
}
