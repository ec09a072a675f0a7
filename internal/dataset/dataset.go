// Package dataset parses uploaded tabular files into typed columns and keeps
// the dataset currently held by the pipeline.
package dataset

import (
	"math"
	"strconv"
)

// ColumnType is the pandas-compatible dtype name reported for a column.
type ColumnType string

const (
	TypeInt64   ColumnType = "int64"
	TypeFloat64 ColumnType = "float64"
	TypeBool    ColumnType = "bool"
	TypeObject  ColumnType = "object"
)

// IsNumeric reports whether the column can be used as a model feature.
func (t ColumnType) IsNumeric() bool {
	return t == TypeInt64 || t == TypeFloat64
}

// Column is one typed column of a Dataset.
// Values holds the parsed number for numeric and bool cells and NaN otherwise.
type Column struct {
	Name    string
	Type    ColumnType
	Raw     []string
	Values  []float64
	Missing []bool
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// Value returns cell i converted to its Go value, or nil when missing.
func (c *Column) Value(i int) any {
	if c.Missing[i] {
		return nil
	}
	switch c.Type {
	case TypeInt64:
		if n, err := strconv.ParseInt(c.Raw[i], 10, 64); err == nil {
			return n
		}
		return int64(c.Values[i])
	case TypeFloat64:
		v := c.Values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case TypeBool:
		return c.Values[i] == 1
	default:
		return c.Raw[i]
	}
}

// Dataset is an uploaded table with ordered, typed columns.
type Dataset struct {
	ID       string
	Filename string
	Columns  []*Column
	rows     int
}

// NRows returns the number of data rows.
func (d *Dataset) NRows() int { return d.rows }

// NColumns returns the number of columns.
func (d *Dataset) NColumns() int { return len(d.Columns) }

// ColumnNames returns the column names in file order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name.
func (d *Dataset) Column(name string) (*Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// DataTypes maps column name to dtype name.
func (d *Dataset) DataTypes() map[string]string {
	out := make(map[string]string, len(d.Columns))
	for _, c := range d.Columns {
		out[c.Name] = string(c.Type)
	}
	return out
}

// MissingValues maps column name to its number of missing cells.
func (d *Dataset) MissingValues() map[string]int {
	out := make(map[string]int, len(d.Columns))
	for _, c := range d.Columns {
		out[c.Name] = c.MissingCount()
	}
	return out
}

// Records returns the first n rows as column name to value maps.
func (d *Dataset) Records(n int) []map[string]any {
	if n < 0 || n > d.rows {
		n = d.rows
	}
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		rec := make(map[string]any, len(d.Columns))
		for _, c := range d.Columns {
			rec[c.Name] = c.Value(i)
		}
		out[i] = rec
	}
	return out
}

// Summary is the upload response body describing a dataset.
type Summary struct {
	DatasetID     string            `json:"dataset_id"`
	Filename      string            `json:"filename"`
	Rows          int               `json:"rows"`
	Columns       int               `json:"columns"`
	ColumnNames   []string          `json:"column_names"`
	DataTypes     map[string]string `json:"data_types"`
	Preview       []map[string]any  `json:"preview"`
	MissingValues map[string]int    `json:"missing_values"`
}

// Summarize describes ds with a preview of its first previewRows rows.
func Summarize(ds *Dataset, previewRows int) Summary {
	return Summary{
		DatasetID:     ds.ID,
		Filename:      ds.Filename,
		Rows:          ds.NRows(),
		Columns:       ds.NColumns(),
		ColumnNames:   ds.ColumnNames(),
		DataTypes:     ds.DataTypes(),
		Preview:       ds.Records(previewRows),
		MissingValues: ds.MissingValues(),
	}
}

// uniqueHeader renames empty and duplicate header cells the way pandas does:
// "Unnamed: <i>" for blanks and ".1", ".2" suffixes for repeats.
func uniqueHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	suffix := make(map[string]int)
	for i, h := range header {
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for used[name] {
			suffix[h]++
			name = h + "." + strconv.Itoa(suffix[h])
		}
		used[name] = true
		out[i] = name
	}
	return out
}
