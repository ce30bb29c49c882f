// Package synth produces plausible-looking field values and records for a schema.
//
// Values are chosen by a two-tier rule table. The field name is first matched
// against an ordered list of word patterns; the first pattern with a matching
// word wins. When no pattern matches, the declared type selects a generator.
// Rule selection is deterministic for a (name, type) pair, values are not.
package synth

import (
	"strings"
	"time"
	"unicode"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/datagen/datagen/pkg/types"
)

// Generator produces one value.
type Generator func() any

// PatternRule maps any of a set of whole words in a field name to a generator.
type PatternRule struct {
	Name     string
	Words    []string
	Generate Generator
}

// FallbackRule is the rule name reported when the declared type decides the value.
const FallbackRule = "type"

// EducationLevels is the enumerated set the education rule samples from.
var EducationLevels = []string{
	"High School",
	"Associate Degree",
	"Bachelor's Degree",
	"Master's Degree",
	"Doctorate",
}

// DefaultPatterns returns the name patterns in priority order.
func DefaultPatterns() []PatternRule {
	return []PatternRule{
		{Name: "name", Words: []string{"name"}, Generate: func() any { return gofakeit.Name() }},
		{Name: "email", Words: []string{"email"}, Generate: func() any { return gofakeit.Email() }},
		{Name: "education", Words: []string{"education"}, Generate: func() any { return lo.Sample(EducationLevels) }},
		{Name: "phone", Words: []string{"phone", "contact"}, Generate: func() any { return gofakeit.Phone() }},
		{Name: "gender", Words: []string{"gender"}, Generate: func() any { return gofakeit.Gender() }},
		{Name: "city", Words: []string{"city"}, Generate: func() any { return gofakeit.City() }},
		{Name: "state", Words: []string{"state"}, Generate: func() any { return gofakeit.State() }},
		{Name: "address", Words: []string{"address"}, Generate: func() any { return gofakeit.Street() }},
		{Name: "country", Words: []string{"country"}, Generate: func() any { return gofakeit.Country() }},
		{Name: "zip", Words: []string{"zip", "postal"}, Generate: func() any { return gofakeit.Zip() }},
		{Name: "company", Words: []string{"company"}, Generate: func() any { return gofakeit.Company() }},
		{Name: "date", Words: []string{"date", "dob"}, Generate: pastTimestamp},
		{Name: "id", Words: []string{"id", "uuid"}, Generate: func() any { return uuid.NewString() }},
		{Name: "salary", Words: []string{"salary", "income"}, Generate: func() any { return int64(gofakeit.Number(20000, 250000)) }},
		{Name: "age", Words: []string{"age"}, Generate: func() any { return int64(gofakeit.Number(18, 90)) }},
		{Name: "description", Words: []string{"description", "bio"}, Generate: func() any { return gofakeit.Sentence(12) }},
		{Name: "url", Words: []string{"url", "website"}, Generate: func() any { return gofakeit.URL() }},
		{Name: "image", Words: []string{"image", "avatar"}, Generate: func() any { return gofakeit.ImageURL(640, 480) }},
	}
}

// DefaultFallbacks returns the type-keyed generators. Types without an entry produce "".
func DefaultFallbacks() map[types.FieldType]Generator {
	return map[types.FieldType]Generator{
		types.FieldString:  func() any { return strings.ToLower(gofakeit.LoremIpsumWord()) },
		types.FieldNumber:  func() any { return int64(gofakeit.Number(0, 1000000)) },
		types.FieldBoolean: func() any { return gofakeit.Bool() },
		types.FieldDate:    pastTimestamp,
		types.FieldAddress: func() any { return gofakeit.Street() },
		types.FieldUUID:    func() any { return uuid.NewString() },
	}
}

func pastTimestamp() any {
	now := time.Now().UTC()
	return gofakeit.DateRange(now.AddDate(-30, 0, 0), now).UTC().Format(time.RFC3339)
}

// Rules is the two-tier value rule table. It is safe for concurrent use.
type Rules struct {
	patterns  []PatternRule
	fallbacks map[types.FieldType]Generator
}

// NewRules builds a rule table from patterns in priority order and type fallbacks.
func NewRules(patterns []PatternRule, fallbacks map[types.FieldType]Generator) *Rules {
	normalized := make([]PatternRule, len(patterns))
	for i, p := range patterns {
		words := make([]string, len(p.Words))
		for j, w := range p.Words {
			words[j] = strings.ToLower(w)
		}
		normalized[i] = PatternRule{Name: p.Name, Words: words, Generate: p.Generate}
	}
	return &Rules{patterns: normalized, fallbacks: fallbacks}
}

// DefaultRules returns the standard rule table.
func DefaultRules() *Rules {
	return NewRules(DefaultPatterns(), DefaultFallbacks())
}

// Select returns the name of the winning rule and its generator.
func (r *Rules) Select(field types.FieldSpec) (string, Generator) {
	words := nameWords(field.Name)
	for _, p := range r.patterns {
		for _, w := range p.Words {
			if lo.Contains(words, w) {
				return p.Name, p.Generate
			}
		}
	}
	if gen, ok := r.fallbacks[field.Type]; ok {
		return FallbackRule, gen
	}
	return FallbackRule, emptyValue
}

// Value produces one value for field.
func (r *Rules) Value(field types.FieldSpec) any {
	_, gen := r.Select(field)
	return gen()
}

func emptyValue() any { return "" }

// nameWords splits a field name into lowercase words. Separators are any
// non-letter rune and lower-to-upper case transitions, so "first_name",
// "user.email" and "firstName" all contain a whole word, while "username" does not.
func nameWords(name string) []string {
	var words []string
	var cur []rune
	var prevLower bool
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r):
			flush()
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				flush()
			}
			cur = append(cur, r)
			prevLower = false
		default:
			cur = append(cur, r)
			prevLower = true
		}
	}
	flush()
	return words
}
