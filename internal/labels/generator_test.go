package labels

import (
	"bytes"
	"testing"
)

func TestGenerateMeterLabelsPDF(t *testing.T) {
	meters := []MeterLabel{
		{SerialNumber: "SN-001", Model: "GX-100"},
		{SerialNumber: "SN-002", Model: "GX-100"},
		{SerialNumber: "SN-003", Model: "GX-200"},
	}

	pdf, err := GenerateMeterLabelsPDF(DefaultSheet, meters)
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Error("output is not a PDF document")
	}
}

func TestGenerateMeterLabelsPDFZeroConfigFallsBack(t *testing.T) {
	pdf, err := GenerateMeterLabelsPDF(SheetConfig{}, []MeterLabel{{SerialNumber: "SN-1"}})
	if err != nil {
		t.Fatalf("generation with zero config failed: %v", err)
	}
	if len(pdf) == 0 {
		t.Error("empty PDF output")
	}
}

func TestGenerateMeterLabelsPDFRejectsEmptyInput(t *testing.T) {
	if _, err := GenerateMeterLabelsPDF(DefaultSheet, nil); err == nil {
		t.Error("expected error for empty meter list")
	}
}
