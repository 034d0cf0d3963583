package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/rubric"
)

const (
	statusSubmitted    = "✅ Submitted"
	statusNotSubmitted = "❌ Not Submitted"
)

// ratingFills are the PDF cell colours in rating order, best first.
var ratingFills = [][3]int{
	{168, 230, 161},
	{208, 240, 253},
	{255, 243, 176},
	{248, 165, 165},
}

// ExportOptions shapes a submissions CSV.
type ExportOptions struct {
	Reflections bool // include domain reflection columns
	Abbreviate  bool // write HE/E/IN/DNMS instead of labels
	Numbered    bool // leading "No." column
}

// ExportService renders CSV and PDF downloads.
type ExportService struct {
	schema *rubric.Schema
}

func NewExportService(schema *rubric.Schema) *ExportService {
	return &ExportService{schema: schema}
}

// SubmissionsCSV writes one line per submission in Responses column order.
func (s *ExportService) SubmissionsCSV(w io.Writer, subs []models.Submission, opts ExportOptions) error {
	cw := csv.NewWriter(w)

	var header []string
	if opts.Numbered {
		header = append(header, "No.")
	}
	header = append(header, rubric.ColTimestamp, rubric.ColEmail, rubric.ColName, rubric.ColAppraiser)
	for _, d := range s.schema.Domains {
		for _, sub := range d.Substrands {
			header = append(header, sub.Column())
		}
		if opts.Reflections && s.schema.Reflections {
			header = append(header, d.ReflectionColumn())
		}
	}
	header = append(header, rubric.ColLastEdited)
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, sub := range subs {
		var line []string
		if opts.Numbered {
			line = append(line, strconv.Itoa(i+1))
		}
		line = append(line, formatTime(sub.Timestamp), sub.Email, sub.Name, sub.Appraiser)
		for _, d := range s.schema.Domains {
			for _, st := range d.Substrands {
				v := sub.Ratings[st.Code]
				if opts.Abbreviate {
					v = s.schema.Abbreviate(v)
				}
				line = append(line, v)
			}
			if opts.Reflections && s.schema.Reflections {
				line = append(line, sub.Reflections[d.Name])
			}
		}
		edited := ""
		if sub.LastEditedOn != nil {
			edited = formatTime(*sub.LastEditedOn)
		}
		line = append(line, edited)
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummaryCSV writes the submission status table.
func (s *ExportService) SummaryCSV(w io.Writer, sum *Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Teacher", "Email", "Appraiser", "Status", "Last Submission"}); err != nil {
		return err
	}
	for _, t := range sum.Teachers {
		status, last := statusNotSubmitted, "-"
		if t.Submitted {
			status = statusSubmitted
			last = formatTime(*t.LastSubmission)
		}
		if err := cw.Write([]string{t.Name, t.Email, t.Appraiser, status, last}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// GridCSV writes the appraisee grid with abbreviated ratings.
func (s *ExportService) GridCSV(w io.Writer, grid *Grid) error {
	cw := csv.NewWriter(w)
	header := []string{"Teacher", "Email", "Appraiser", "Last Submission"}
	for _, c := range grid.Columns {
		header = append(header, c.Code)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range grid.Rows {
		line := []string{r.Name, r.Email, r.Appraiser, formatTime(r.Timestamp)}
		for _, c := range grid.Columns {
			line = append(line, r.Ratings[c.Code])
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReportPDF renders a status table followed by one section per teacher with
// their latest ratings and reflections.
func (s *ExportService) ReportPDF(w io.Writer, title string, details []TeacherDetail, generated time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(title, true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated "+formatTime(generated), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	submitted := 0
	for _, d := range details {
		if d.Latest != nil {
			submitted++
		}
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Progress: %d/%d submitted", submitted, len(details)), "", 1, "L", false, 0, "")
	pdf.Ln(1)

	widths := []float64{55, 65, 30, 40}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Teacher", "Email", "Status", "Last Submission"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 9)
	for _, d := range details {
		status, last := "Not Submitted", "-"
		if d.Latest != nil {
			status, last = "Submitted", formatTime(d.Latest.Timestamp)
		}
		cells := []string{d.Teacher.Name, d.Teacher.Email, status, last}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, tr(c), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	for _, d := range details {
		if d.Latest == nil {
			continue
		}
		s.teacherPage(pdf, tr, d)
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}

func (s *ExportService) teacherPage(pdf *fpdf.Fpdf, tr func(string) string, d TeacherDetail) {
	latest := d.Latest
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 9, tr(d.Teacher.Name), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("%s   Appraiser: %s", d.Teacher.Email, d.Teacher.Appraiser)), "", 1, "L", false, 0, "")
	meta := "Submitted " + formatTime(latest.Timestamp)
	if latest.LastEditedOn != nil {
		meta += ", last edited " + formatTime(*latest.LastEditedOn)
	}
	pdf.CellFormat(0, 5, meta, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for _, dom := range s.schema.Domains {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 7, tr(dom.Name), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, sub := range dom.Substrands {
			label := latest.Ratings[sub.Code]
			pdf.CellFormat(15, 6, sub.Code, "1", 0, "L", false, 0, "")
			pdf.CellFormat(135, 6, tr(sub.Label), "1", 0, "L", false, 0, "")
			fill := false
			if idx := s.ratingIndex(label); idx >= 0 && idx < len(ratingFills) {
				c := ratingFills[idx]
				pdf.SetFillColor(c[0], c[1], c[2])
				fill = true
			}
			pdf.CellFormat(30, 6, s.schema.Abbreviate(label), "1", 1, "C", fill, 0, "")
		}
		if text := latest.Reflections[dom.Name]; text != "" {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.MultiCell(0, 5, tr("Reflection: "+text), "", "L", false)
		}
		pdf.Ln(2)
	}
}

func (s *ExportService) ratingIndex(label string) int {
	for i, r := range s.schema.Ratings {
		if r.Label == label {
			return i
		}
	}
	return -1
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.TimestampLayout)
}
