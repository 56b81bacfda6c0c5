package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/in-nis/school-portal/internal/models"
)

var ErrMissingColumns = errors.New("calendar: header must name session, term, start and end columns")

// -------------------- DOWNLOAD --------------------

// Fetch downloads a remote workbook into a temp file and returns its path.
func Fetch(ctx context.Context, url string) (string, error) {
	log.Println("📥 Downloading calendar from:", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.CreateTemp("", "calendar-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	if _, err = io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	log.Println("✅ Calendar saved to", out.Name())
	return out.Name(), nil
}

// -------------------- PARSING --------------------

// Parse reads the first sheet of the workbook at path. The header row names
// the Session, Term, Start and End columns in any order.
func Parse(path string, loc *time.Location) ([]models.Term, error) {
	log.Println("📖 Opening calendar file:", path)
	if loc == nil {
		loc = time.UTC
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("calendar: %s has no sheets", path)
	}
	return parseSheet(f, sheets[0], loc)
}

type columns struct {
	session, term, start, end int
}

func parseSheet(f *excelize.File, sheetName string, loc *time.Location) ([]models.Term, error) {
	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrMissingColumns
	}

	cols, err := headerColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var terms []models.Term
	skipped := 0
	for i, row := range rows[1:] {
		rowNum := i + 2
		session := cell(row, cols.session)
		name := cell(row, cols.term)
		if session == "" || name == "" {
			continue
		}

		start, err := parseDate(cell(row, cols.start), loc)
		if err != nil {
			skipped++
			log.Printf("⚠️ Skipped row %d: invalid start %q\n", rowNum, cell(row, cols.start))
			continue
		}
		end, err := parseDate(cell(row, cols.end), loc)
		if err != nil {
			skipped++
			log.Printf("⚠️ Skipped row %d: invalid end %q\n", rowNum, cell(row, cols.end))
			continue
		}
		if start.After(end) {
			skipped++
			log.Printf("⚠️ Skipped row %d: term %s/%s starts after it ends\n", rowNum, session, name)
			continue
		}

		terms = append(terms, models.Term{
			Session:   session,
			Name:      name,
			StartDate: start,
			EndDate:   end,
		})
	}

	log.Printf("📊 Finished %s: %d terms, %d skipped\n", sheetName, len(terms), skipped)
	return terms, nil
}

func headerColumns(header []string) (columns, error) {
	cols := columns{-1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "session", "academic year":
			cols.session = i
		case "term":
			cols.term = i
		case "start", "start date":
			cols.start = i
		case "end", "end date":
			cols.end = i
		}
	}
	if cols.session < 0 || cols.term < 0 || cols.start < 0 || cols.end < 0 {
		return cols, ErrMissingColumns
	}
	return cols, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseDate accepts ISO dates, dd.mm.yyyy and raw Excel serial numbers.
func parseDate(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range []string{time.DateOnly, "02.01.2006"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	serial, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}
