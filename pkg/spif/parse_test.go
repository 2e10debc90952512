package spif

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func policyXML(version string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<securityPolicy xmlns="urn:arclight:spif:1" name="COALITION SHARING POLICY" id="coalition-spif" version="%s">
  <classifications>
    <classification name="UNCLASSIFIED" hierarchy="0">
      <displayPhrase>UNCLASSIFIED</displayPhrase>
      <portionMark>NU</portionMark>
    </classification>
    <classification name="RESTRICTED" hierarchy="1">
      <displayPhrase>RESTRICTED</displayPhrase>
      <portionMark>NR</portionMark>
    </classification>
    <classification name="CONFIDENTIAL" hierarchy="2">
      <displayPhrase>CONFIDENTIAL</displayPhrase>
      <portionMark>NC</portionMark>
    </classification>
    <classification name="SECRET" hierarchy="3">
      <displayPhrase>SECRET</displayPhrase>
      <portionMark>NS</portionMark>
    </classification>
    <classification name="TOP SECRET" hierarchy="4">
      <displayPhrase>TOP SECRET</displayPhrase>
      <portionMark>CTS</portionMark>
    </classification>
  </classifications>
  <categoryTagSets>
    <categoryTagSet id="releasability" name="Releasability">
      <qualifier prefix="REL TO " separator=", "/>
      <tag code="USA" displayPhrase="United States"/>
      <tag code="GBR" displayPhrase="United Kingdom"/>
      <tag code="FRA" displayPhrase="France"/>
    </categoryTagSet>
    <categoryTagSet id="coi" name="Communities of Interest">
      <qualifier prefix="" separator="/"/>
      <tag code="ALPHA" displayPhrase="Alpha"/>
      <tag code="BRAVO" displayPhrase="Bravo"/>
    </categoryTagSet>
  </categoryTagSets>
</securityPolicy>`, version)
}

func TestParse_ValidPolicy(t *testing.T) {
	model, err := Parse([]byte(policyXML("1.2.0")), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if model.PolicyName != "COALITION SHARING POLICY" {
		t.Errorf("policy name = %q", model.PolicyName)
	}
	if model.PolicyID != "coalition-spif" {
		t.Errorf("policy id = %q", model.PolicyID)
	}
	if model.Version != "1.2.0" {
		t.Errorf("version = %q", model.Version)
	}
	if len(model.Classifications) != 5 {
		t.Fatalf("classifications = %d, want 5", len(model.Classifications))
	}

	wantOrder := []string{"UNCLASSIFIED", "RESTRICTED", "CONFIDENTIAL", "SECRET", "TOP SECRET"}
	for i, name := range wantOrder {
		def := model.Classifications[i]
		if def.Name != name {
			t.Errorf("classification[%d] = %q, want %q", i, def.Name, name)
		}
		if def.Rank != Rank(i) {
			t.Errorf("classification %q rank = %d, want %d", name, def.Rank, i)
		}
	}

	rel, ok := model.Releasability()
	if !ok {
		t.Fatal("releasability tag set missing")
	}
	if rel.Qualifier.Prefix != "REL TO " || rel.Qualifier.Separator != ", " {
		t.Errorf("releasability qualifier = %+v", rel.Qualifier)
	}
	tag, ok := rel.Tag("GBR")
	if !ok || tag.DisplayPhrase != "United Kingdom" {
		t.Errorf("GBR tag = %+v, ok=%v", tag, ok)
	}
	if _, ok := rel.Tag("DEU"); ok {
		t.Error("DEU should not be in the releasability set")
	}
}

func TestParse_ClassificationLookup(t *testing.T) {
	model, err := Parse([]byte(policyXML("1.2.0")), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	for _, name := range []string{"TOP SECRET", "top secret", "TOP_SECRET", "  Top   Secret  "} {
		def, err := model.Classification(name)
		if err != nil {
			t.Fatalf("Classification(%q): %v", name, err)
		}
		if def.Rank != 4 {
			t.Errorf("Classification(%q) rank = %d, want 4", name, def.Rank)
		}
	}

	_, err = model.Classification("EYES ONLY")
	var unknown *UnknownClassificationError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownClassificationError", err)
	}
	if unknown.Name != "EYES ONLY" {
		t.Errorf("unknown name = %q", unknown.Name)
	}

	if _, err := model.Classification(""); err == nil {
		t.Error("empty name should not resolve")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"TOP SECRET", "TOP SECRET"},
		{"top_secret", "TOP SECRET"},
		{"  Très   Secret ", "TRÈS SECRET"},
		{"STRENG_GEHEIM", "STRENG GEHEIM"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeName(tc.in); got != tc.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParse_RejectsInvalidDocuments(t *testing.T) {
	valid := func(body string) string {
		return `<?xml version="1.0"?>
<securityPolicy xmlns="urn:arclight:spif:1" name="P" id="p" version="1.0.0">` + body + `</securityPolicy>`
	}
	classifications := `<classifications>
  <classification name="UNCLASSIFIED" hierarchy="0"><displayPhrase>UNCLASSIFIED</displayPhrase><portionMark>NU</portionMark></classification>
  <classification name="SECRET" hierarchy="3"><displayPhrase>SECRET</displayPhrase><portionMark>NS</portionMark></classification>
</classifications>`

	cases := []struct {
		name       string
		doc        string
		wantReason string
	}{
		{
			name: "wrong namespace",
			doc: `<?xml version="1.0"?>
<securityPolicy xmlns="urn:example:other" name="P" id="p" version="1.0.0">` + classifications + `</securityPolicy>`,
			wantReason: "namespace",
		},
		{
			name: "bad version",
			doc: `<?xml version="1.0"?>
<securityPolicy xmlns="urn:arclight:spif:1" name="P" id="p" version="latest">` + classifications + `</securityPolicy>`,
			wantReason: "not semver",
		},
		{
			name:       "no classifications",
			doc:        valid(`<classifications></classifications>`),
			wantReason: "no classifications",
		},
		{
			name: "missing portion mark",
			doc: valid(`<classifications>
  <classification name="SECRET" hierarchy="3"><displayPhrase>SECRET</displayPhrase></classification>
</classifications>`),
			wantReason: "portionMark",
		},
		{
			name: "missing display phrase",
			doc: valid(`<classifications>
  <classification name="SECRET" hierarchy="3"><portionMark>NS</portionMark></classification>
</classifications>`),
			wantReason: "displayPhrase",
		},
		{
			name: "missing hierarchy",
			doc: valid(`<classifications>
  <classification name="SECRET"><displayPhrase>SECRET</displayPhrase><portionMark>NS</portionMark></classification>
</classifications>`),
			wantReason: "hierarchy",
		},
		{
			name: "non-increasing ranks",
			doc: valid(`<classifications>
  <classification name="SECRET" hierarchy="3"><displayPhrase>SECRET</displayPhrase><portionMark>NS</portionMark></classification>
  <classification name="CONFIDENTIAL" hierarchy="3"><displayPhrase>CONFIDENTIAL</displayPhrase><portionMark>NC</portionMark></classification>
</classifications>`),
			wantReason: "does not increase",
		},
		{
			name: "duplicate name after normalization",
			doc: valid(`<classifications>
  <classification name="TOP SECRET" hierarchy="4"><displayPhrase>TOP SECRET</displayPhrase><portionMark>CTS</portionMark></classification>
  <classification name="top_secret" hierarchy="5"><displayPhrase>TOP SECRET</displayPhrase><portionMark>CTS</portionMark></classification>
</classifications>`),
			wantReason: "duplicate classification",
		},
		{
			name: "duplicate tag code",
			doc: valid(classifications + `<categoryTagSets>
  <categoryTagSet id="releasability" name="Releasability">
    <qualifier prefix="REL TO " separator=", "/>
    <tag code="USA" displayPhrase="United States"/>
    <tag code="USA" displayPhrase="United States"/>
  </categoryTagSet>
</categoryTagSets>`),
			wantReason: "duplicate tag code",
		},
		{
			name:       "malformed xml",
			doc:        `<securityPolicy xmlns="urn:arclight:spif:1"`,
			wantReason: "malformed XML",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), "test")
			if err == nil {
				t.Fatal("Parse accepted invalid document")
			}
			var loadErr *PolicyLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("err = %T, want *PolicyLoadError", err)
			}
			if !strings.Contains(loadErr.Reason, tc.wantReason) {
				t.Errorf("reason = %q, want substring %q", loadErr.Reason, tc.wantReason)
			}
		})
	}
}
