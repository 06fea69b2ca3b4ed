package labels

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// MeterLabel is one label on the sheet: the QR encodes the serial
// number so field scanning resolves the physical unit.
type MeterLabel struct {
	SerialNumber string `json:"serial_number"`
	Model        string `json:"model"`
}

// SheetConfig holds the label sheet layout.
type SheetConfig struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
	GapX       float64 `json:"gapX"`
	GapY       float64 `json:"gapY"`
}

// DefaultSheet is a 3x8 A4 layout matching common adhesive label paper.
var DefaultSheet = SheetConfig{
	Cols:       3,
	Rows:       8,
	MarginTop:  10,
	MarginLeft: 7,
	GapX:       3,
	GapY:       2,
}

// GenerateMeterLabelsPDF creates an A4 PDF of QR labels, one per meter.
func GenerateMeterLabelsPDF(cfg SheetConfig, meters []MeterLabel) ([]byte, error) {
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		cfg = DefaultSheet
	}
	if len(meters) == 0 {
		return nil, fmt.Errorf("no meters to print")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "B", 10)

	// A4 dimensions
	pageWidth, pageHeight := 210.0, 297.0

	totalGapX := float64(cfg.Cols-1) * cfg.GapX
	totalGapY := float64(cfg.Rows-1) * cfg.GapY

	availW := pageWidth - (cfg.MarginLeft * 2)
	availH := pageHeight - (cfg.MarginTop * 2)

	labelW := (availW - totalGapX) / float64(cfg.Cols)
	labelH := (availH - totalGapY) / float64(cfg.Rows)

	labelsPerPage := cfg.Cols * cfg.Rows

	for i, meter := range meters {
		if i%labelsPerPage == 0 {
			pdf.AddPage()
		}

		indexOnPage := i % labelsPerPage
		col := indexOnPage % cfg.Cols
		row := indexOnPage / cfg.Cols

		x := cfg.MarginLeft + float64(col)*(labelW+cfg.GapX)
		y := cfg.MarginTop + float64(row)*(labelH+cfg.GapY)

		qrPng, err := qrcode.Encode(meter.SerialNumber, qrcode.Medium, 256)
		if err != nil {
			return nil, err
		}

		imgName := fmt.Sprintf("qr_%d", i)
		imgOptions := gofpdf.ImageOptions{
			ImageType: "PNG",
			ReadDpi:   true,
		}
		reader := bytes.NewReader(qrPng)
		_ = pdf.RegisterImageOptionsReader(imgName, imgOptions, reader)

		// QR centered in the label, taking up 70% of its height.
		qrSize := labelH * 0.7
		if qrSize > labelW {
			qrSize = labelW * 0.9
		}

		qrX := x + (labelW-qrSize)/2
		qrY := y + (labelH-qrSize)/2 - 2

		pdf.ImageOptions(imgName, qrX, qrY, qrSize, qrSize, false, imgOptions, 0, "")

		// Serial number below the QR.
		pdf.SetXY(x, y+labelH-6)
		pdf.SetFontSize(8)
		pdf.CellFormat(labelW, 5, meter.SerialNumber, "", 0, "C", false, 0, "")

		// Model top right.
		pdf.SetXY(x, y+1)
		pdf.SetFontSize(6)
		pdf.CellFormat(labelW, 3, meter.Model, "", 0, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
