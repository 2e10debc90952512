// Package spif loads and models the security-policy definition (SPIF): the
// ordered classification scale, the category tag sets, and the marking
// grammar they carry.
//
// The parsed model is immutable. A Loader owns exactly one cached model and
// is the only mutation point (cache invalidation swaps the whole model, never
// edits it in place), so every consumer reads a consistent snapshot without
// locking.
package spif

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rank is a classification's position on the policy scale.
// Higher is more restrictive.
type Rank int

// TagSetReleasability is the well-known id of the tag set the marking
// generator uses to render releasability phrases.
const TagSetReleasability = "releasability"

// ClassificationDef is one level of the policy's classification scale.
type ClassificationDef struct {
	Name          string `json:"name"`
	Rank          Rank   `json:"hierarchy"`
	DisplayPhrase string `json:"display_phrase"`
	PortionCode   string `json:"portion_code"`
}

// CategoryTag maps a short code to its display phrase
// (e.g. "USA" to "United States").
type CategoryTag struct {
	Code          string `json:"code"`
	DisplayPhrase string `json:"display_phrase"`
}

// Qualifier describes how multiple tag values are joined into marking text.
type Qualifier struct {
	Prefix    string `json:"prefix"`
	Separator string `json:"separator"`
}

// CategoryTagSet is a named, ordered collection of category tags plus the
// qualifier grammar used to render them.
type CategoryTagSet struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Qualifier Qualifier     `json:"qualifier"`
	Tags      []CategoryTag `json:"tags"`
}

// Tag returns the tag with the given code, if the set defines it.
func (s *CategoryTagSet) Tag(code string) (CategoryTag, bool) {
	for _, t := range s.Tags {
		if t.Code == code {
			return t, true
		}
	}
	return CategoryTag{}, false
}

// PolicyModel is the parsed security policy. Built once per load, then
// read-only.
type PolicyModel struct {
	PolicyName string
	PolicyID   string
	Version    string

	// Classifications in declaration order; ranks strictly increase.
	Classifications []ClassificationDef

	// TagSets keyed by tag-set id.
	TagSets map[string]CategoryTagSet

	byName map[string]*ClassificationDef
}

// Classification resolves a classification by name. Lookup is
// case-insensitive and whitespace/underscore-insensitive, so "TOP SECRET",
// "TOP_SECRET", and "top secret" name the same level. Unrecognized or empty
// input returns *UnknownClassificationError, never a default level: a caller
// that cannot classify must deny, not guess.
func (m *PolicyModel) Classification(name string) (*ClassificationDef, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, &UnknownClassificationError{Name: name}
	}
	def, ok := m.byName[key]
	if !ok {
		return nil, &UnknownClassificationError{Name: name}
	}
	return def, nil
}

// Releasability returns the tag set used for releasability rendering.
func (m *PolicyModel) Releasability() (CategoryTagSet, bool) {
	ts, ok := m.TagSets[TagSetReleasability]
	return ts, ok
}

// index rebuilds the normalized-name lookup table. Called once at parse time.
func (m *PolicyModel) index() {
	m.byName = make(map[string]*ClassificationDef, len(m.Classifications))
	for i := range m.Classifications {
		def := &m.Classifications[i]
		m.byName[NormalizeName(def.Name)] = def
	}
}

// NormalizeName folds a classification or national term into the canonical
// lookup form: NFC-normalized, underscores treated as spaces, internal
// whitespace collapsed, uppercased. National vocabularies carry diacritics
// ("TRÈS SECRET"), so the fold must be Unicode-aware, not ASCII-only.
func NormalizeName(name string) string {
	s := norm.NFC.String(name)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToUpper(s)
}
