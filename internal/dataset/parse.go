package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
)

const opUpload = "upload"

// Format is a supported upload file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DetectFormat maps a filename extension (case-insensitive) to a Format.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	}
	return "", errors.NewInputError(opUpload, errors.ErrUnsupportedFormat,
		"Unsupported file format. Please upload CSV or Excel file.")
}

// Parse reads an uploaded file into a Dataset with a fresh ID.
// The format is chosen from the filename extension.
func Parse(filename string, r io.Reader) (*Dataset, error) {
	if filename == "" {
		return nil, errors.NewInputError(opUpload, errors.ErrEmptyFile, "No file selected")
	}
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.NewInputError(opUpload, errors.ErrEmptyFile, "No file provided")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapInputError(opUpload, errors.ErrParse, err,
			fmt.Sprintf("Error processing file: %v", err))
	}
	if len(data) == 0 {
		return nil, errors.NewInputError(opUpload, errors.ErrEmptyFile, "Uploaded file is empty")
	}

	var cells [][]string
	switch format {
	case FormatCSV:
		cells, err = readCSV(data)
	case FormatXLSX:
		cells, err = readXLSX(data)
	case FormatXLS:
		cells, err = readXLS(data)
	}
	if err == nil {
		var ds *Dataset
		ds, err = newDataset(cells)
		if err == nil {
			ds.ID = uuid.NewString()
			ds.Filename = filepath.Base(filename)
			return ds, nil
		}
	}
	return nil, errors.WrapInputError(opUpload, errors.ErrParse, err,
		fmt.Sprintf("Error processing file: %v", err))
}

// newDataset builds typed columns from a header row followed by data rows.
// Blank rows are skipped and short rows are padded with missing cells.
func newDataset(cells [][]string) (*Dataset, error) {
	for len(cells) > 0 && isBlank(cells[0]) {
		cells = cells[1:]
	}
	if len(cells) == 0 {
		return nil, errors.New("no columns to parse from file")
	}
	header := make([]string, len(cells[0]))
	for i, h := range cells[0] {
		header[i] = strings.TrimSpace(h)
	}
	header = uniqueHeader(header)
	ncol := len(header)

	raw := make([][]string, ncol)
	rows := 0
	for line, row := range cells[1:] {
		if isBlank(row) {
			continue
		}
		if len(row) > ncol {
			return nil, errors.Newf("expected %d fields in line %d, saw %d", ncol, line+2, len(row))
		}
		for j := 0; j < ncol; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			raw[j] = append(raw[j], cell)
		}
		rows++
	}

	ds := &Dataset{Columns: make([]*Column, ncol), rows: rows}
	for j, name := range header {
		col := raw[j]
		if col == nil {
			col = []string{}
		}
		ds.Columns[j] = newColumn(name, col)
	}
	return ds, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	cells, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	return cells, nil
}

// sniffDelimiter picks the most frequent of ',', ';' and '\t' in the header
// line, ignoring quoted text. Comma wins ties.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	counts := map[rune]int{}
	quoted := false
	for _, c := range string(line) {
		switch {
		case c == '"':
			quoted = !quoted
		case !quoted && (c == ',' || c == ';' || c == '\t'):
			counts[c]++
		}
	}
	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "open xlsx")
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheets[0])
	}
	return rows, nil
}

// readXLS reads the first sheet of a legacy BIFF workbook. The decoder panics
// on some malformed files, so it runs under SafeCall.
func readXLS(data []byte) ([][]string, error) {
	return errors.SafeCall("read xls", func() ([][]string, error) {
		wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, errors.Wrap(err, "open xls")
		}
		sheet := wb.GetSheet(0)
		if sheet == nil {
			return nil, errors.New("workbook has no sheets")
		}
		var rows [][]string
		for i := 0; i <= int(sheet.MaxRow); i++ {
			row := sheet.Row(i)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, row.LastCol())
			for j := range cells {
				cells[j] = row.Col(j)
			}
			rows = append(rows, cells)
		}
		return rows, nil
	})
}
