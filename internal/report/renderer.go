// Package report renders the one-page analysis PDF and delivers it.
package report

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"

	"scan-kiosk/internal/config"
	"scan-kiosk/internal/scan"
)

const (
	pageWidth  = 210.0
	pageHeight = 297.0
	margin     = 15.0
	maxImages  = 3
	maxFinding = 3
)

// brand colour #1e3a8a
var brand = [3]int{30, 58, 138}

type Options struct {
	Letterheads map[string]config.Letterhead
	FooterText  string
	// TemplatePath is an optional one-page PDF drawn under every report
	// in place of the generated letterhead band.
	TemplatePath string
	// Compress deflates page streams. Tests turn it off to read text back.
	Compress bool
}

type Renderer struct {
	letterheads map[string]config.Letterhead
	footer      string
	template    []byte
	compress    bool
}

func NewRenderer(opts Options) (*Renderer, error) {
	r := &Renderer{
		letterheads: opts.Letterheads,
		footer:      opts.FooterText,
		compress:    opts.Compress,
	}
	if r.letterheads == nil {
		r.letterheads = config.DefaultLetterheads()
	}
	if opts.TemplatePath != "" {
		b, err := os.ReadFile(opts.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read letterhead template: %w", err)
		}
		r.template = b
	}
	return r, nil
}

// FileName is the download and delivery name of a report.
func FileName(in scan.Intake, date time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(in.FullName))
	return fmt.Sprintf("%s_%s_%s.pdf", name, in.ServiceType, date.Format("2006-01-02"))
}

// SaveToFile writes a rendered report into dir and returns its path.
func SaveToFile(dir, fileName string, doc []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(fileName))
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (r *Renderer) letterhead(st scan.ServiceType) config.Letterhead {
	if lh, ok := r.letterheads[string(st)]; ok {
		return lh
	}
	return config.Letterhead{CompanyName: st.Label(), ServiceTitle: st.Label() + " Report"}
}

// Render lays out the report for one patient. images are the captured
// frames; an image that cannot be decoded fails the whole render.
func (r *Renderer) Render(in scan.Intake, a scan.Assessment, images []scan.Frame, date time.Time) ([]byte, error) {
	lh := r.letterhead(in.ServiceType)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetAutoPageBreak(true, 12)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetTitle(lh.ServiceTitle, true)
	pdf.SetCreator("scan-kiosk", true)
	pdf.SetFooterFunc(func() {
		pdf.SetFillColor(brand[0], brand[1], brand[2])
		pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetXY(0, pageHeight-7)
		pdf.CellFormat(pageWidth, 6, r.footer, "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if r.template != nil {
		if err := useTemplate(pdf, r.template); err != nil {
			return nil, err
		}
	} else {
		drawLetterhead(pdf, tr, lh)
	}

	y := 42.0
	pdf.SetTextColor(brand[0], brand[1], brand[2])
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(margin, y, tr(lh.ServiceTitle))

	y += 6
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.Text(margin, y, "Report Date: "+date.Format("02 Jan 2006"))

	y += 5
	pdf.SetDrawColor(brand[0], brand[1], brand[2])
	pdf.SetLineWidth(0.5)
	pdf.Line(margin, y, pageWidth-margin, y)

	y += 6
	heading(pdf, "Patient Information", y, 10)
	y += 5
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 9)
	pdf.Text(margin, y, tr("Name: "+in.FullName))
	pdf.Text(105, y, "Score: "+a.Score.String())
	y += 4
	pdf.Text(margin, y, "Phone: "+in.PhoneNumber)
	pdf.Text(105, y, "Type: "+in.ServiceType.Short())

	y += 6
	heading(pdf, "Overall Assessment", y, 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetXY(margin, y+1.5)
	pdf.MultiCell(pageWidth-2*margin, 3.5, tr(a.OverallAssessment), "", "L", false)
	y = pdf.GetY() + 3

	if findings := a.TopFindings(maxFinding); len(findings) > 0 {
		heading(pdf, "Key Findings", y, 9)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetY(y + 1.5)
		for i, f := range findings {
			pdf.SetX(margin + 3)
			pdf.MultiCell(pageWidth-2*margin-3, 3.5, tr(fmt.Sprintf("%d. %s", i+1, f)), "", "L", false)
		}
		y = pdf.GetY() + 3
	}

	if len(a.DetectedProblems) > 0 {
		heading(pdf, "Recommended "+in.ServiceType.Short()+" Treatments", y, 9)
		pdf.SetY(y + 2)
		treatmentTable(pdf, tr, a.DetectedProblems)
		y = pdf.GetY() + 4
	}

	if len(images) > 0 {
		if err := r.drawImages(pdf, images, y); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func heading(pdf *gofpdf.Fpdf, text string, y, size float64) {
	pdf.SetTextColor(brand[0], brand[1], brand[2])
	pdf.SetFont("Helvetica", "B", size)
	pdf.Text(margin, y, text)
}

func drawLetterhead(pdf *gofpdf.Fpdf, tr func(string) string, lh config.Letterhead) {
	pdf.SetFillColor(brand[0], brand[1], brand[2])
	pdf.Rect(0, 0, pageWidth, 35, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.Text(margin, 15, tr(lh.CompanyName))
	if lh.Tagline != "" {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.Text(margin, 21, tr(lh.Tagline))
	}

	pdf.SetFont("Helvetica", "", 8)
	x := pageWidth - 50
	pdf.Text(x, 12, "Tel: "+lh.Phone)
	pdf.Text(x, 16, "Email: "+lh.Email)
	pdf.Text(x, 20, tr(lh.Address))
	pdf.Text(x, 24, "Web: "+lh.Website)
}

func treatmentTable(pdf *gofpdf.Fpdf, tr func(string) string, rows []scan.Problem) {
	widths := []float64{40, 70, pageWidth - 2*margin - 110}
	header := []string{"Problem", "Description", "Suggested Treatment"}
	const lineHt = 3.5

	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(brand[0], brand[1], brand[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetX(margin)
	for i, h := range header {
		pdf.CellFormat(widths[i], 5, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetDrawColor(200, 200, 200)
	for _, row := range rows {
		cells := []string{tr(row.Problem), tr(row.Description), tr(row.SuggestedTreatment)}
		lines := 1
		for i, c := range cells {
			if n := len(pdf.SplitLines([]byte(c), widths[i]-2)); n > lines {
				lines = n
			}
		}
		h := float64(lines)*lineHt + 1
		if pdf.GetY()+h > pageHeight-14 {
			pdf.AddPage()
		}
		x, y := margin, pdf.GetY()
		for i, c := range cells {
			pdf.Rect(x, y, widths[i], h, "D")
			pdf.SetXY(x+1, y+0.5)
			pdf.MultiCell(widths[i]-2, lineHt, c, "", "L", false)
			x += widths[i]
		}
		pdf.SetXY(margin, y+h)
	}
	pdf.SetDrawColor(brand[0], brand[1], brand[2])
}

func (r *Renderer) drawImages(pdf *gofpdf.Fpdf, images []scan.Frame, y float64) error {
	const spacing = 5.0
	size := (pageWidth - 2*margin - 2*spacing) / maxImages
	if y+size+12 > pageHeight-12 {
		pdf.AddPage()
		y = margin + 5
	}
	heading(pdf, "Analysis Images", y, 9)
	y += 3

	for i, img := range images {
		if i == maxImages {
			break
		}
		name := fmt.Sprintf("frame-%d", i+1)
		opt := gofpdf.ImageOptions{ImageType: imageType(img)}
		pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(img.Data))
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("embed image %d: %w", i+1, err)
		}
		x := margin + float64(i)*(size+spacing)
		pdf.ImageOptions(name, x, y, size, size, false, opt, 0, "")

		pdf.SetTextColor(100, 100, 100)
		pdf.SetFont("Helvetica", "", 7)
		pdf.SetXY(x, y+size+0.5)
		pdf.CellFormat(size, 3, fmt.Sprintf("Image %d", i+1), "", 0, "C", false, 0, "")
	}
	return pdf.Error()
}

func imageType(f scan.Frame) string {
	mime := f.MIMEType
	if mime == "" {
		mime = http.DetectContentType(f.Data)
	}
	switch mime {
	case "image/png":
		return "PNG"
	case "image/gif":
		return "GIF"
	default:
		return "JPG"
	}
}

// useTemplate draws page one of a letterhead PDF over the whole page.
func useTemplate(pdf *gofpdf.Fpdf, tpl []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("import letterhead template: %v", p)
		}
	}()
	imp := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(tpl))
	id := imp.ImportPageFromStream(pdf, &rs, 1, "/MediaBox")
	imp.UseImportedTemplate(pdf, id, 0, 0, pageWidth, pageHeight)
	if pdf.Err() {
		return fmt.Errorf("import letterhead template: %w", pdf.Error())
	}
	return nil
}
