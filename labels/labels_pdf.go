package labels

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"grndock/infrastructure/barcode"
)

// RenderSheetPDF lays label records out on A4 pages, three columns by
// eight rows, each cell carrying the QR image when the encoder produced
// one. Records with no image still print their text fields.
func RenderSheetPDF(records []Record, enc barcode.Encoder) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no labels to render")
	}

	const (
		cols      = 3
		rows      = 8
		marginX   = 8.0
		marginY   = 10.0
		cellGap   = 2.0
		qrSide    = 16.0
		lineH     = 3.4
		textInset = 1.5
	)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Item Labels", false)
	pdf.SetAutoPageBreak(false, 0)

	pageW, pageH := 210.0, 297.0
	cellW := (pageW - 2*marginX - float64(cols-1)*cellGap) / cols
	cellH := (pageH - 2*marginY - float64(rows-1)*cellGap) / rows

	perPage := cols * rows
	for i, rec := range records {
		slot := i % perPage
		if slot == 0 {
			pdf.AddPage()
		}
		col := slot % cols
		row := slot / cols
		x := marginX + float64(col)*(cellW+cellGap)
		y := marginY + float64(row)*(cellH+cellGap)

		pdf.SetLineWidth(0.2)
		pdf.Rect(x, y, cellW, cellH, "")

		if img := barcode.EncodeLabelImage(enc, rec.BarcodeData); img != nil {
			opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
			name := fmt.Sprintf("label-%s-%d", rec.BatchNumber, rec.Sequence)
			pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(img))
			pdf.ImageOptions(name, x+textInset, y+(cellH-qrSide)/2, qrSide, qrSide, false, opt, 0, "")
		}

		textX := x + qrSide + 2*textInset
		textW := cellW - qrSide - 3*textInset
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetXY(textX, y+textInset+1)
		pdf.CellFormat(textW, lineH, rec.ItemCode, "", 2, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 6.5)
		pdf.CellFormat(textW, lineH, truncateText(pdf, rec.ItemName, textW), "", 2, "L", false, 0, "")
		pdf.CellFormat(textW, lineH, "Batch: "+rec.BatchNumber, "", 2, "L", false, 0, "")
		if rec.ExpiryDate != "" {
			pdf.CellFormat(textW, lineH, "Exp: "+rec.ExpiryDate, "", 2, "L", false, 0, "")
		}
		if rec.ReceiptDate != "" {
			pdf.CellFormat(textW, lineH, "GRN: "+rec.ReceiptDate, "", 2, "L", false, 0, "")
		}
		pdf.SetFont("Helvetica", "B", 7)
		pdf.CellFormat(textW, lineH, rec.SequenceText, "", 2, "L", false, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func truncateText(pdf *gofpdf.Fpdf, text string, maxWidth float64) string {
	if pdf.GetStringWidth(text) <= maxWidth {
		return text
	}
	for len(text) > 1 && pdf.GetStringWidth(text+"...") > maxWidth {
		text = text[:len(text)-1]
	}
	return text + "..."
}
