package directory

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"github.com/dossierflow/dossierflow/pkg/apperror"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", apperror.Validation(fmt.Sprintf("Format d'export non supporté: %q", value))
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/pdf"
	}
}

// Export is a rendered report ready to be sent as an attachment.
type Export struct {
	Data        []byte
	Filename    string
	ContentType string
}

type table struct {
	title   string
	name    string
	columns []string
	rows    [][]string
}

func (d *Directory) ExportDivisions(ctx context.Context, format Format) (*Export, error) {
	divisions, err := d.Divisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load divisions: %w", err)
	}
	t := table{
		title:   "Liste des divisions",
		name:    "divisions",
		columns: []string{"ID", "Division (FR)", "Division (AR)", "Services"},
	}
	for _, division := range divisions {
		t.rows = append(t.rows, []string{
			strconv.FormatUint(uint64(division.ID), 10),
			division.LabelFr,
			division.LabelAr,
			strconv.Itoa(len(division.Services)),
		})
	}
	return d.render(t, format)
}

func (d *Directory) ExportServices(ctx context.Context, format Format) (*Export, error) {
	services, err := d.Services(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	t := table{
		title:   "Liste des services",
		name:    "services",
		columns: []string{"ID", "Service (FR)", "Service (AR)", "Division"},
	}
	for _, service := range services {
		division := ""
		if service.Division != nil {
			division = service.Division.LabelFr
		}
		t.rows = append(t.rows, []string{
			strconv.FormatUint(uint64(service.ID), 10),
			service.LabelFr,
			service.LabelAr,
			division,
		})
	}
	return d.render(t, format)
}

func (d *Directory) render(t table, format Format) (*Export, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = renderCSV(t)
	case FormatXLSX:
		data, err = renderXLSX(t)
	case FormatPDF:
		data, err = renderPDF(t)
	default:
		return nil, apperror.Validation(fmt.Sprintf("Format d'export non supporté: %q", format))
	}
	if err != nil {
		return nil, fmt.Errorf("render %s export: %w", format, err)
	}
	return &Export{
		Data:        data,
		Filename:    fmt.Sprintf("%s_%s.%s", t.name, time.Now().Format("20060102_150405"), format),
		ContentType: format.ContentType(),
	}, nil
}

func renderCSV(t table) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(t.columns); err != nil {
		return nil, err
	}
	for _, row := range t.rows {
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(t table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	if err := f.SetSheetName(sheet, t.name); err != nil {
		return nil, err
	}
	sheet = t.name

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	for i, column := range t.columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, column); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}
	for r, row := range t.rows {
		for c, value := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}
	for i := range t.columns {
		column, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, column, column, 30); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderPDF uses the core Helvetica font, which covers Latin-1 only; Arabic
// columns are left out of the PDF.
func renderPDF(t table) ([]byte, error) {
	keep := make([]int, 0, len(t.columns))
	for i, column := range t.columns {
		if !strings.Contains(column, "(AR)") {
			keep = append(keep, i)
		}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(t.title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(t.title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, tr("Généré le "+time.Now().Format("02/01/2006 15:04")), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	width := 190.0 / float64(len(keep))
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(224, 224, 224)
	for _, i := range keep {
		pdf.CellFormat(width, 8, tr(t.columns[i]), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range t.rows {
		for _, i := range keep {
			pdf.CellFormat(width, 7, tr(row[i]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
