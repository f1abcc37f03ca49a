package model

import "testing"

func testCatalogue() *Catalogue {
	return &Catalogue{
		Application: Application{ID: 7, Name: "Client Onboarding"},
		Stages:      []StageTemplate{{StageID: 10, Name: "Intake"}, {StageID: 20, Name: "Review"}},
		Substages: []SubstageTemplate{
			{SubstageID: 101, Name: "Collect", DefaultStageID: 10, ParamMapping: []int64{1, 2, 3}},
			{SubstageID: 102, Name: "Verify", DefaultStageID: 10},
			{SubstageID: 201, Name: "Compliance", DefaultStageID: 20},
		},
		Parameters: []ParameterDefinition{
			{ParamID: 1, Name: "region", Type: "string"},
			{ParamID: 2, Name: "passport_scan", Type: ParamTypeUpload},
		},
		Attestations: []AttestationDefinition{{AttestationID: 900, Text: "Complete"}},
	}
}

func TestCatalogue_lookups(t *testing.T) {
	c := testCatalogue()

	if s, ok := c.Stage(20); !ok || s.Name != "Review" {
		t.Errorf("Stage(20) = %+v, %v", s, ok)
	}
	if _, ok := c.Stage(99); ok {
		t.Error("Stage(99) found")
	}
	if s, ok := c.Substage(102); !ok || s.Name != "Verify" {
		t.Errorf("Substage(102) = %+v, %v", s, ok)
	}
	if p, ok := c.Parameter(2); !ok || !p.IsUpload() {
		t.Errorf("Parameter(2) = %+v, %v", p, ok)
	}
	if _, ok := c.Attestation(901); ok {
		t.Error("Attestation(901) found")
	}
}

func TestCatalogue_SubstagesForStage(t *testing.T) {
	c := testCatalogue()

	got := c.SubstagesForStage(10)
	if len(got) != 2 || got[0].SubstageID != 101 || got[1].SubstageID != 102 {
		t.Errorf("SubstagesForStage(10) = %+v", got)
	}
	if got := c.SubstagesForStage(30); len(got) != 0 {
		t.Errorf("SubstagesForStage(30) = %+v, want none", got)
	}
}

func TestCatalogue_MappedParameters(t *testing.T) {
	c := testCatalogue()
	sub := SnapshotOf(c.Substages[0])

	editable, uploads := c.MappedParameters(sub)

	if len(editable) != 1 || editable[0].Name != "region" {
		t.Errorf("editable = %+v", editable)
	}
	if len(uploads) != 1 || uploads[0].Name != "passport_scan" {
		t.Errorf("uploads = %+v", uploads)
	}
}
