package label

import "testing"

func TestOperator_DefaultsToAll(t *testing.T) {
	l := &SecurityLabel{Classification: "SECRET"}
	if got := l.Operator(); got != COIOperatorAll {
		t.Errorf("Operator() = %q, want ALL", got)
	}

	l.COIOperator = COIOperatorAny
	if got := l.Operator(); got != COIOperatorAny {
		t.Errorf("Operator() = %q, want ANY", got)
	}
}

func TestCOIOperator_Valid(t *testing.T) {
	cases := []struct {
		op   COIOperator
		want bool
	}{
		{COIOperatorAll, true},
		{COIOperatorAny, true},
		{COIOperator(""), false},
		{COIOperator("SOME"), false},
	}
	for _, tc := range cases {
		if got := tc.op.Valid(); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.op, got, tc.want)
		}
	}
}

func TestParseCountryCode(t *testing.T) {
	if got := ParseCountryCode(" usa "); got != CountryCode("USA") {
		t.Errorf("ParseCountryCode = %q, want USA", got)
	}
}

func TestClone_Independent(t *testing.T) {
	orig := &SecurityLabel{
		Classification: "SECRET",
		ReleasableTo:   []CountryCode{"USA", "GBR"},
		COI:            []COIID{"OPALPHA"},
		Caveats:        []Caveat{"NOFORN"},
	}

	cp := orig.Clone()
	cp.ReleasableTo[0] = "FRA"
	cp.COI[0] = "OPBRAVO"

	if orig.ReleasableTo[0] != "USA" {
		t.Error("Clone shares releasability backing array with original")
	}
	if orig.COI[0] != "OPALPHA" {
		t.Error("Clone shares COI backing array with original")
	}

	var nilLabel *SecurityLabel
	if nilLabel.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
