package batch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	excelize "github.com/xuri/excelize/v2"
)

// OutputSuffix is appended to the input file name when no explicit output
// path is given: ips.xlsx becomes ips_results.xlsx.
const OutputSuffix = "_results"

var resultHeader = []string{
	"Country",
	"Region",
	"City",
	"Longitude",
	"Latitude",
	"Timezone",
	"Error",
}

// ReadWorkbook reads the first sheet of an xlsx file. The first row is
// treated as a header and returned separately.
func ReadWorkbook(path string) ([]string, []Record, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open workbook: %w", err)
	}

	defer book.Close()

	rows, err := book.GetRows(book.GetSheetName(0))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read rows: %w", err)
	}

	if len(rows) == 0 || len(rows[0]) < 2 {
		return nil, nil, fmt.Errorf("workbook must have a header row with at least two columns")
	}

	header := []string{rows[0][0], rows[0][1]}
	records := make([]Record, 0, len(rows)-1)

	for _, cells := range rows[1:] {
		record := Record{}

		// GetRows trims trailing empty cells, so short rows are normal
		// here: they become records with empty cells.
		if len(cells) > 0 {
			record.Sequence = strings.TrimSpace(cells[0])
		}

		if len(cells) > 1 {
			record.Address = strings.TrimSpace(cells[1])
		}

		records = append(records, record)
	}

	return header, records, nil
}

// Write saves the report as an xlsx file, with the input columns first and
// the location columns after them. Column widths are fitted to the
// contents.
func (r *Report) Write(path string) error {
	book := excelize.NewFile()

	defer book.Close()

	sheet := book.GetSheetName(0)
	header := append(append([]string{}, r.Header...), resultHeader...)
	widths := make([]int, len(header))

	cells := make([]interface{}, len(header))
	for i, v := range header {
		cells[i] = v
	}

	if err := setRow(book, sheet, 1, cells, widths); err != nil {
		return err
	}

	for i, row := range r.Rows {
		if err := setRow(book, sheet, i+2, rowCells(row), widths); err != nil {
			return err
		}
	}

	for i, width := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("cannot build a column name: %w", err)
		}

		if err := book.SetColWidth(sheet, name, name, float64(width+2)); err != nil {
			return fmt.Errorf("cannot set a column width: %w", err)
		}
	}

	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("cannot save workbook: %w", err)
	}

	return nil
}

func rowCells(row Row) []interface{} {
	longitude := ""
	latitude := ""

	if row.Err == "" {
		longitude = strconv.FormatFloat(row.Result.Longitude, 'f', -1, 64)
		latitude = strconv.FormatFloat(row.Result.Latitude, 'f', -1, 64)
	}

	return []interface{}{
		row.Sequence,
		row.Address,
		row.Result.Country,
		row.Result.Region,
		row.Result.City,
		longitude,
		latitude,
		row.Result.Timezone,
		row.Err,
	}
}

func setRow(book *excelize.File, sheet string, rowNumber int, cells []interface{}, widths []int) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNumber)
	if err != nil {
		return fmt.Errorf("cannot build a cell name: %w", err)
	}

	if err := book.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("cannot write a row: %w", err)
	}

	for i, v := range cells {
		if text, ok := v.(string); ok && utf8.RuneCountInString(text) > widths[i] {
			widths[i] = utf8.RuneCountInString(text)
		}
	}

	return nil
}

// OutputPath returns explicit when it is set, otherwise derives a path
// from the input file name by appending OutputSuffix before the extension.
func OutputPath(inputPath, explicit string) string {
	if explicit != "" {
		return explicit
	}

	ext := filepath.Ext(inputPath)

	return strings.TrimSuffix(inputPath, ext) + OutputSuffix + ext
}
