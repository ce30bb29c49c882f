package synth

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/datagen/datagen/pkg/types"
)

const (
	// MinNumericKey and MaxNumericKey bound numeric primary keys.
	MinNumericKey int64 = 10
	MaxNumericKey int64 = 1_000_000_000_000_000_000
)

// Synthesizer produces records for a schema. It holds no per-field state
// and is safe for concurrent use.
type Synthesizer struct {
	rules *Rules
}

// NewSynthesizer creates a synthesizer over rules. A nil rules uses DefaultRules.
func NewSynthesizer(rules *Rules) *Synthesizer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Synthesizer{rules: rules}
}

// Synthesize produces one record with a value for every field, keyed by name.
// The primary key value is then replaced according to its declared type.
func (s *Synthesizer) Synthesize(schema types.Schema) types.Record {
	return s.Bind(schema)()
}

// Bind resolves the rule of every field once and returns a function
// producing records for schema. The resolved generators live only as long
// as the returned function, so a session owns them.
func (s *Synthesizer) Bind(schema types.Schema) func() types.Record {
	gens := make([]Generator, len(schema))
	for i, f := range schema {
		_, gens[i] = s.rules.Select(f)
	}
	pk, hasPK := schema.PrimaryKey()

	return func() types.Record {
		rec := make(types.Record, len(schema))
		for i, f := range schema {
			rec[f.Name] = gens[i]()
		}
		if hasPK {
			if v, override := primaryKeyValue(pk.Type); override {
				rec[pk.Name] = v
			}
		}
		return rec
	}
}

// primaryKeyValue ignores the field name entirely.
func primaryKeyValue(t types.FieldType) (any, bool) {
	switch t {
	case types.FieldNumber:
		return MinNumericKey + rand.Int64N(MaxNumericKey-MinNumericKey+1), true
	case types.FieldUUID, types.FieldString:
		return uuid.NewString(), true
	default:
		return nil, false
	}
}
