// Package export renders a student's grade list as CSV or PDF.
package export

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales"
	"github.com/go-playground/locales/de"
)

// Row is the normalized grade line both renderers consume.
type Row struct {
	Subject  string
	GradedAt time.Time
	Value    float64
	Weight   float64
	Teacher  string
	Comment  string
}

var (
	csvHeader = []string{"Subject", "Date", "Grade", "Weight", "Teacher", "Comment"}

	// grades use the German school scale, dates follow the same locale
	dateLocale locales.Translator = de.New()
)

// FormatDate renders t as a localized medium date (dd.MM.y).
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return dateLocale.FmtDateMedium(t)
}

func formatValue(v float64) string  { return strconv.FormatFloat(v, 'f', 2, 64) }
func formatWeight(w float64) string { return strconv.FormatFloat(w, 'f', -1, 64) }

// WriteCSV writes a header line then one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	if err := writeCSVLine(w, csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		line := []string{
			r.Subject,
			FormatDate(r.GradedAt),
			formatValue(r.Value),
			formatWeight(r.Weight),
			r.Teacher,
			r.Comment,
		}
		if err := writeCSVLine(w, line); err != nil {
			return err
		}
	}
	return nil
}

// CSV is WriteCSV into memory.
func CSV(rows []Row) []byte {
	var buf bytes.Buffer
	_ = WriteCSV(&buf, rows)
	return buf.Bytes()
}

func writeCSVLine(w io.Writer, fields []string) error {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = EscapeCSVField(f)
	}
	_, err := io.WriteString(w, strings.Join(escaped, ",")+"\n")
	return err
}

// EscapeCSVField defuses spreadsheet formulas then quotes the field when needed.
//
// A field starting with = + - @ tab or CR gets a leading single quote. A field containing a comma,
// a double quote or a line break is wrapped in double quotes with inner quotes doubled.
func EscapeCSVField(f string) string {
	if f != "" && strings.ContainsRune("=+-@\t\r", rune(f[0])) {
		f = "'" + f
	}
	if strings.ContainsAny(f, ",\"\n\r") {
		f = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return f
}
