package export

import (
	"bytes"
	"fmt"
	"strings"
)

// Report is the content of a PDF grade report.
type Report struct {
	Title  string
	Fields []string // identifying lines, e.g. "Student: Lea Berg"
	Rows   []Row
}

// Lines returns the text lines of the report, one per grade after the header block.
func (rep Report) Lines() []string {
	lines := make([]string, 0, len(rep.Fields)+len(rep.Rows)+2)
	lines = append(lines, rep.Title)
	lines = append(lines, rep.Fields...)
	lines = append(lines, "")
	for _, r := range rep.Rows {
		lines = append(lines, strings.Join([]string{
			r.Subject,
			FormatDate(r.GradedAt),
			formatValue(r.Value),
			formatWeight(r.Weight),
			r.Comment,
		}, " | "))
	}
	return lines
}

const (
	pdfFontSize   = 11
	pdfLeading    = 14
	pdfMarginLeft = 50
	pdfTop        = 800
)

// PDF renders the report as a single A4 page with the Helvetica base font.
// Long reports run off the page: there is no pagination.
func PDF(rep Report) []byte {
	return RenderPDF(rep.Lines())
}

// RenderPDF writes a minimal PDF 1.4 document with the given text lines:
// catalog, page tree, one page, its content stream and one font, followed by the cross-reference table.
func RenderPDF(lines []string) []byte {
	var content bytes.Buffer
	fmt.Fprintf(&content, "BT\n/F1 %d Tf\n%d TL\n%d %d Td\n", pdfFontSize, pdfLeading, pdfMarginLeft, pdfTop)
	for _, line := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", EscapePDFText(line))
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)
	return buf.Bytes()
}

// EscapePDFText makes s safe inside a PDF literal string: \ ( ) are backslash-escaped and
// every rune outside printable ASCII becomes '?'.
func EscapePDFText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\' || r == '(' || r == ')':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
