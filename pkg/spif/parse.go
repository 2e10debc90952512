package spif

import (
	"encoding/xml"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// PolicyNamespace is the XML namespace a policy document must declare.
// Documents in any other namespace are rejected before inspection.
const PolicyNamespace = "urn:arclight:spif:1"

type xmlPolicy struct {
	XMLName         xml.Name            `xml:"securityPolicy"`
	Name            string              `xml:"name,attr"`
	ID              string              `xml:"id,attr"`
	Version         string              `xml:"version,attr"`
	Classifications []xmlClassification `xml:"classifications>classification"`
	TagSets         []xmlTagSet         `xml:"categoryTagSets>categoryTagSet"`
}

type xmlClassification struct {
	Name string `xml:"name,attr"`
	// Pointer so an absent rank is distinguishable from rank zero.
	Hierarchy     *int   `xml:"hierarchy,attr"`
	DisplayPhrase string `xml:"displayPhrase"`
	PortionMark   string `xml:"portionMark"`
}

type xmlTagSet struct {
	ID        string       `xml:"id,attr"`
	Name      string       `xml:"name,attr"`
	Qualifier xmlQualifier `xml:"qualifier"`
	Tags      []xmlTag     `xml:"tag"`
}

type xmlQualifier struct {
	Prefix    string `xml:"prefix,attr"`
	Separator string `xml:"separator,attr"`
}

type xmlTag struct {
	Code          string `xml:"code,attr"`
	DisplayPhrase string `xml:"displayPhrase,attr"`
}

// Parse decodes and validates a policy document. source names where the
// bytes came from and appears in error messages only.
//
// Validation is strict and fail-closed: a document that decodes but violates
// any structural rule (missing marking data, non-increasing ranks, duplicate
// names) yields *PolicyLoadError and no model.
func Parse(data []byte, source string) (*PolicyModel, error) {
	var doc xmlPolicy
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &PolicyLoadError{
			Source: source,
			Reason: fmt.Sprintf("malformed XML: %v", err),
			Err:    err,
		}
	}
	if doc.XMLName.Space != PolicyNamespace {
		return nil, &PolicyLoadError{
			Source:  source,
			Section: "document",
			Reason:  fmt.Sprintf("namespace %q, want %q", doc.XMLName.Space, PolicyNamespace),
		}
	}
	if doc.Name == "" || doc.ID == "" {
		return nil, &PolicyLoadError{
			Source:  source,
			Section: "document",
			Reason:  "policy name and id attributes are required",
		}
	}
	if _, err := semver.NewVersion(doc.Version); err != nil {
		return nil, &PolicyLoadError{
			Source:  source,
			Section: "version",
			Reason:  fmt.Sprintf("version %q is not semver: %v", doc.Version, err),
			Err:     err,
		}
	}
	if len(doc.Classifications) == 0 {
		return nil, &PolicyLoadError{
			Source:  source,
			Section: "classifications",
			Reason:  "policy defines no classifications",
		}
	}

	model := &PolicyModel{
		PolicyName:      doc.Name,
		PolicyID:        doc.ID,
		Version:         doc.Version,
		Classifications: make([]ClassificationDef, 0, len(doc.Classifications)),
		TagSets:         make(map[string]CategoryTagSet, len(doc.TagSets)),
	}

	seen := make(map[string]struct{}, len(doc.Classifications))
	prev := Rank(-1 << 31)
	for i, c := range doc.Classifications {
		section := fmt.Sprintf("classification[%d]", i)
		if c.Name != "" {
			section = fmt.Sprintf("classification %q", c.Name)
		}
		switch {
		case c.Name == "":
			return nil, &PolicyLoadError{Source: source, Section: section, Reason: "name attribute is required"}
		case c.Hierarchy == nil:
			return nil, &PolicyLoadError{Source: source, Section: section, Reason: "hierarchy attribute is required"}
		case c.DisplayPhrase == "":
			return nil, &PolicyLoadError{Source: source, Section: section, Reason: "displayPhrase is required"}
		case c.PortionMark == "":
			return nil, &PolicyLoadError{Source: source, Section: section, Reason: "portionMark is required"}
		}
		key := NormalizeName(c.Name)
		if _, dup := seen[key]; dup {
			return nil, &PolicyLoadError{Source: source, Section: section, Reason: "duplicate classification name"}
		}
		seen[key] = struct{}{}
		rank := Rank(*c.Hierarchy)
		if rank <= prev {
			return nil, &PolicyLoadError{
				Source:  source,
				Section: section,
				Reason:  fmt.Sprintf("hierarchy %d does not increase (previous %d)", rank, prev),
			}
		}
		prev = rank
		model.Classifications = append(model.Classifications, ClassificationDef{
			Name:          c.Name,
			Rank:          rank,
			DisplayPhrase: c.DisplayPhrase,
			PortionCode:   c.PortionMark,
		})
	}

	for _, ts := range doc.TagSets {
		section := fmt.Sprintf("categoryTagSet %q", ts.ID)
		if ts.ID == "" {
			return nil, &PolicyLoadError{Source: source, Section: "categoryTagSets", Reason: "tag set id attribute is required"}
		}
		if _, dup := model.TagSets[ts.ID]; dup {
			return nil, &PolicyLoadError{Source: source, Section: section, Reason: "duplicate tag set id"}
		}
		set := CategoryTagSet{
			ID:   ts.ID,
			Name: ts.Name,
			Qualifier: Qualifier{
				Prefix:    ts.Qualifier.Prefix,
				Separator: ts.Qualifier.Separator,
			},
			Tags: make([]CategoryTag, 0, len(ts.Tags)),
		}
		codes := make(map[string]struct{}, len(ts.Tags))
		for _, t := range ts.Tags {
			if t.Code == "" {
				return nil, &PolicyLoadError{Source: source, Section: section, Reason: "tag code attribute is required"}
			}
			if _, dup := codes[t.Code]; dup {
				return nil, &PolicyLoadError{Source: source, Section: section, Reason: fmt.Sprintf("duplicate tag code %q", t.Code)}
			}
			codes[t.Code] = struct{}{}
			set.Tags = append(set.Tags, CategoryTag{Code: t.Code, DisplayPhrase: t.DisplayPhrase})
		}
		model.TagSets[ts.ID] = set
	}

	model.index()
	return model, nil
}
