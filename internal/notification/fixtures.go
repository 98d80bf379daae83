package notification

import (
	_ "embed"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mainthub/notifier/internal/errors"
)

//go:embed fixtures.yaml
var fixturesYAML []byte

type fixture struct {
	ID       string        `yaml:"id"`
	Type     string        `yaml:"type"`
	Priority string        `yaml:"priority"`
	Title    string        `yaml:"title"`
	Message  string        `yaml:"message"`
	Project  string        `yaml:"project"`
	Age      time.Duration `yaml:"age"`
	Read     bool          `yaml:"read"`
	Actions  []string      `yaml:"actions"`
	Roles    []string      `yaml:"roles"`
}

// DemoRecords returns the demo dataset shown when the backend is unreachable,
// dated relative to now. Every record has Source local and an id prefixed
// with "demo-".
func DemoRecords(n *Normalizer, now time.Time) ([]*Record, error) {
	if n == nil {
		n = defaultNormalizer
	}

	var fixtures []fixture
	if err := yaml.Unmarshal(fixturesYAML, &fixtures); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("operation", "load_fixtures").
			Build()
	}

	records := make([]*Record, 0, len(fixtures))
	for _, f := range fixtures {
		raw := Raw{
			"id":        f.ID,
			"type":      f.Type,
			"priority":  f.Priority,
			"title":     f.Title,
			"message":   f.Message,
			"project":   f.Project,
			"isRead":    f.Read,
			"createdAt": now.Add(-f.Age),
		}
		if len(f.Actions) > 0 {
			raw[MetadataKeyActions] = toAnySlice(f.Actions)
		}
		if len(f.Roles) > 0 {
			raw[MetadataKeyRoles] = toAnySlice(f.Roles)
		}
		rec, err := n.NormalizeFrom(SourceLocal, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
