package marking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arclight-labs/spifmark/pkg/label"
	"github.com/arclight-labs/spifmark/pkg/spif"
)

const testPolicy = `<?xml version="1.0"?>
<securityPolicy xmlns="urn:arclight:spif:1" name="TEST" id="test" version="2.1.0">
  <classifications>
    <classification name="UNCLASSIFIED" hierarchy="0"><displayPhrase>UNCLASSIFIED</displayPhrase><portionMark>NU</portionMark></classification>
    <classification name="CONFIDENTIAL" hierarchy="2"><displayPhrase>CONFIDENTIAL</displayPhrase><portionMark>NC</portionMark></classification>
    <classification name="SECRET" hierarchy="3"><displayPhrase>SECRET</displayPhrase><portionMark>NS</portionMark></classification>
    <classification name="TOP SECRET" hierarchy="4"><displayPhrase>TOP SECRET</displayPhrase><portionMark>CTS</portionMark></classification>
  </classifications>
  <categoryTagSets>
    <categoryTagSet id="releasability" name="Releasability">
      <qualifier prefix="REL TO " separator=", "/>
      <tag code="USA" displayPhrase="United States"/>
      <tag code="GBR" displayPhrase="United Kingdom"/>
      <tag code="CAN" displayPhrase="Canada"/>
      <tag code="FRA" displayPhrase="France"/>
    </categoryTagSet>
  </categoryTagSets>
</securityPolicy>`

const bareTestPolicy = `<?xml version="1.0"?>
<securityPolicy xmlns="urn:arclight:spif:1" name="BARE" id="bare" version="1.0.0">
  <classifications>
    <classification name="SECRET" hierarchy="3"><displayPhrase>SECRET</displayPhrase><portionMark>NS</portionMark></classification>
  </classifications>
</securityPolicy>`

func testModel(t *testing.T, doc string) *spif.PolicyModel {
	t.Helper()
	model, err := spif.Parse([]byte(doc), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return model
}

func countries(codes ...string) []label.CountryCode {
	out := make([]label.CountryCode, len(codes))
	for i, c := range codes {
		out[i] = label.CountryCode(c)
	}
	return out
}

func TestRender_BareClassification(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "UNCLASSIFIED", nil, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.DisplayMarking != "UNCLASSIFIED" {
		t.Errorf("display = %q, want UNCLASSIFIED", gen.DisplayMarking)
	}
	if gen.PortionMarking != "(NU)" {
		t.Errorf("portion = %q, want (NU)", gen.PortionMarking)
	}
	if gen.ReleasabilityPhrase != "" {
		t.Errorf("releasability phrase = %q, want empty", gen.ReleasabilityPhrase)
	}
	if gen.PolicyVersion != "2.1.0" {
		t.Errorf("policy version = %q", gen.PolicyVersion)
	}
}

func TestRender_Releasability(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "SECRET", countries("USA"), Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.DisplayMarking != "SECRET//REL TO USA" {
		t.Errorf("display = %q", gen.DisplayMarking)
	}
	if gen.PortionMarking != "(NS)" {
		t.Errorf("portion = %q, want (NS): releasability must not extend the portion mark", gen.PortionMarking)
	}

	gen, err = Render(model, "SECRET", countries("USA", "GBR", "CAN"), Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.ReleasabilityPhrase != "REL TO USA, GBR, CAN" {
		t.Errorf("releasability phrase = %q", gen.ReleasabilityPhrase)
	}
	if gen.DisplayMarking != "SECRET//REL TO USA, GBR, CAN" {
		t.Errorf("display = %q", gen.DisplayMarking)
	}
}

func TestRender_UnregisteredCountryKept(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "SECRET", countries("USA", "SWE"), Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.ReleasabilityPhrase != "REL TO USA, SWE" {
		t.Errorf("phrase = %q: codes outside the tag set must render, not drop", gen.ReleasabilityPhrase)
	}
}

func TestRender_LowercaseCodeCanonicalized(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "SECRET", countries("gbr"), Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.ReleasabilityPhrase != "REL TO GBR" {
		t.Errorf("phrase = %q", gen.ReleasabilityPhrase)
	}
}

func TestRender_Caveats(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "SECRET", countries("USA"), Options{
		Caveats: []label.Caveat{"NOFORN", "ATOMAL"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.DisplayMarking != "SECRET//REL TO USA//NOFORN//ATOMAL" {
		t.Errorf("display = %q", gen.DisplayMarking)
	}
	if gen.PortionMarking != "(NS)" {
		t.Errorf("portion = %q", gen.PortionMarking)
	}
}

func TestRender_CaveatsWithoutReleasability(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "CONFIDENTIAL", nil, Options{
		Caveats: []label.Caveat{"ORCON"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.DisplayMarking != "CONFIDENTIAL//ORCON" {
		t.Errorf("display = %q", gen.DisplayMarking)
	}
}

func TestRender_COINotRendered(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "SECRET", countries("USA"), Options{
		COI: []label.COIID{"ALPHA", "BRAVO"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(gen.DisplayMarking, "ALPHA") || strings.Contains(gen.DisplayMarking, "BRAVO") {
		t.Errorf("display = %q: COI must not appear in marking text", gen.DisplayMarking)
	}
	if len(gen.COI) != 2 {
		t.Errorf("COI = %v, want recorded verbatim", gen.COI)
	}
}

func TestRender_UnknownClassification(t *testing.T) {
	model := testModel(t, testPolicy)

	_, err := Render(model, "EYES ONLY", nil, Options{})
	var unknown *spif.UnknownClassificationError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownClassificationError", err)
	}
}

func TestRender_NormalizedClassificationSpelling(t *testing.T) {
	model := testModel(t, testPolicy)

	gen, err := Render(model, "top_secret", nil, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gen.Classification != "TOP SECRET" {
		t.Errorf("classification = %q, want canonical policy name", gen.Classification)
	}
	if gen.DisplayMarking != "TOP SECRET" {
		t.Errorf("display = %q", gen.DisplayMarking)
	}
	if gen.PortionMarking != "(CTS)" {
		t.Errorf("portion = %q", gen.PortionMarking)
	}
}

func TestRender_NoReleasabilitySet(t *testing.T) {
	model := testModel(t, bareTestPolicy)

	if _, err := Render(model, "SECRET", nil, Options{}); err != nil {
		t.Fatalf("bare render: %v", err)
	}
	_, err := Render(model, "SECRET", countries("USA"), Options{})
	if !errors.Is(err, ErrNoReleasabilitySet) {
		t.Fatalf("err = %v, want ErrNoReleasabilitySet", err)
	}
}

func TestGenerator_FromLabel(t *testing.T) {
	loader := spif.NewLoader(staticSource(testPolicy))
	gen := NewGenerator(loader)

	l := &label.SecurityLabel{
		Classification: "SECRET",
		ReleasableTo:   countries("USA", "GBR"),
		Caveats:        []label.Caveat{"NOFORN"},
		COI:            []label.COIID{"ALPHA"},
	}
	got, err := gen.FromLabel(context.Background(), l)
	if err != nil {
		t.Fatalf("FromLabel: %v", err)
	}
	if got.DisplayMarking != "SECRET//REL TO USA, GBR//NOFORN" {
		t.Errorf("display = %q", got.DisplayMarking)
	}
	if got.PortionMarking != "(NS)" {
		t.Errorf("portion = %q", got.PortionMarking)
	}
	if len(got.COI) != 1 || got.COI[0] != "ALPHA" {
		t.Errorf("COI = %v", got.COI)
	}
}

type staticSource string

func (s staticSource) Fetch(context.Context) ([]byte, error) { return []byte(s), nil }
func (s staticSource) Describe() string                      { return "static" }
