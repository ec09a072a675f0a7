package dataset

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
)

func parseString(t *testing.T, filename, content string) *Dataset {
	t.Helper()
	ds, err := Parse(filename, strings.NewReader(content))
	require.NoError(t, err)
	return ds
}

func TestParseCSV_Types(t *testing.T) {
	ds := parseString(t, "data.csv",
		"id,score,flag,name,partial\n"+
			"1,0.5,true,alice,3\n"+
			"2,1.5,False,bob,\n"+
			"3,2,TRUE,carol,4\n")

	require.Equal(t, 3, ds.NRows())
	assert.Equal(t, []string{"id", "score", "flag", "name", "partial"}, ds.ColumnNames())
	assert.Equal(t, map[string]string{
		"id":      "int64",
		"score":   "float64",
		"flag":    "bool",
		"name":    "object",
		"partial": "float64",
	}, ds.DataTypes())
	assert.Equal(t, map[string]int{"id": 0, "score": 0, "flag": 0, "name": 0, "partial": 1}, ds.MissingValues())
	assert.NotEmpty(t, ds.ID)
	assert.Equal(t, "data.csv", ds.Filename)
}

func TestParseCSV_MissingTokens(t *testing.T) {
	ds := parseString(t, "m.csv", "a,b\nNA,x\nnan,y\n1, \nnull,None\n#N/A,N/A\n")

	a, ok := ds.Column("a")
	require.True(t, ok)
	assert.Equal(t, TypeFloat64, a.Type)
	assert.Equal(t, 4, a.MissingCount())

	b, _ := ds.Column("b")
	assert.Equal(t, TypeObject, b.Type)
	assert.Equal(t, 3, b.MissingCount())
}

func TestParseCSV_NonFiniteNumbersAreMissing(t *testing.T) {
	ds := parseString(t, "inf.csv", "a,b,c\n1,inf,x\n2,-Infinity,inf\n3,NAN,y\n4,2.5,z\n")

	a, _ := ds.Column("a")
	assert.Equal(t, TypeInt64, a.Type)

	b, _ := ds.Column("b")
	assert.Equal(t, TypeFloat64, b.Type)
	assert.Equal(t, 3, b.MissingCount())
	for i := 0; i < 3; i++ {
		assert.Nil(t, b.Value(i))
	}
	assert.Equal(t, 2.5, b.Value(3))

	c, _ := ds.Column("c")
	assert.Equal(t, TypeObject, c.Type)
	assert.Equal(t, 0, c.MissingCount())
	assert.Equal(t, "inf", c.Value(1))

	assert.Equal(t, map[string]int{"a": 0, "b": 3, "c": 0}, ds.MissingValues())
}

func TestParseCSV_LargeIntegersKeepPrecision(t *testing.T) {
	ds := parseString(t, "ids.csv", "id\n9007199254740993\n-9223372036854775808\n")

	id, _ := ds.Column("id")
	require.Equal(t, TypeInt64, id.Type)
	assert.Equal(t, int64(9007199254740993), id.Value(0))
	assert.Equal(t, int64(-9223372036854775808), id.Value(1))
	assert.Equal(t, int64(9007199254740993), ds.Records(1)[0]["id"])
}

func TestParseCSV_BoolWithMissingIsObject(t *testing.T) {
	ds := parseString(t, "b.csv", "flag\ntrue\n\nfalse\nNA\n")
	flag, _ := ds.Column("flag")
	assert.Equal(t, TypeObject, flag.Type)
}

func TestParseCSV_Header(t *testing.T) {
	ds := parseString(t, "h.csv", "a,a,,a\n1,2,3,4\n")
	assert.Equal(t, []string{"a", "a.1", "Unnamed: 2", "a.2"}, ds.ColumnNames())
}

func TestParseCSV_Delimiters(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"comma", "x,y\n1,2\n"},
		{"semicolon", "x;y\n1;2\n"},
		{"tab", "x\ty\n1\t2\n"},
		{"quoted comma", "\"x,1\";y\n1;2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := parseString(t, "d.csv", tt.content)
			assert.Equal(t, 2, ds.NColumns())
			assert.Equal(t, 1, ds.NRows())
		})
	}
}

func TestParseCSV_ShortRowsAndBlankLines(t *testing.T) {
	ds := parseString(t, "s.csv", "\xef\xbb\xbfa,b,c\n1,2\n\n4,5,6\n")
	assert.Equal(t, []string{"a", "b", "c"}, ds.ColumnNames())
	assert.Equal(t, 2, ds.NRows())
	assert.Equal(t, map[string]int{"a": 0, "b": 0, "c": 1}, ds.MissingValues())
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	ds := parseString(t, "empty.csv", "a,b\n")
	assert.Equal(t, 0, ds.NRows())
	assert.Equal(t, 2, ds.NColumns())
	assert.Equal(t, "float64", ds.DataTypes()["a"])
	assert.Empty(t, ds.Records(10))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		sentinel error
	}{
		{"no filename", "", "a\n1\n", errors.ErrEmptyFile},
		{"empty content", "a.csv", "", errors.ErrEmptyFile},
		{"unsupported", "a.json", "{}", errors.ErrUnsupportedFormat},
		{"no extension", "data", "a\n1\n", errors.ErrUnsupportedFormat},
		{"blank csv", "a.csv", "\n\n", errors.ErrParse},
		{"too many fields", "a.csv", "a,b\n1,2,3\n", errors.ErrParse},
		{"bad quote", "a.csv", "a,b\n1,\"x\"y\n", errors.ErrParse},
		{"bad xlsx", "a.xlsx", "not a zip", errors.ErrParse},
		{"bad xls", "a.xls", "not a workbook", errors.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.filename, strings.NewReader(tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, errors.KindInput, errors.KindOf(err))
		})
	}

	_, err := Parse("a.csv", nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyFile))
}

func TestParse_ExtensionIsCaseInsensitive(t *testing.T) {
	ds := parseString(t, "DATA.CSV", "a\n1\n")
	assert.Equal(t, 1, ds.NRows())

	f, err := DetectFormat("Book.XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"feature", "label", "note"},
		{1.5, "yes", "a"},
		{2.5, "no"},
		{3, "yes", "c"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	ds, err := Parse("book.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.NRows())
	assert.Equal(t, []string{"feature", "label", "note"}, ds.ColumnNames())
	assert.Equal(t, "float64", ds.DataTypes()["feature"])
	assert.Equal(t, "object", ds.DataTypes()["label"])
	assert.Equal(t, 1, ds.MissingValues()["note"])
}

func TestRecordsAndSummary(t *testing.T) {
	ds := parseString(t, "r.csv", "i,f,b,s\n1,0.5,true,x\n2,,false,\n")

	recs := ds.Records(10)
	require.Len(t, recs, 2)
	assert.Equal(t, map[string]any{"i": int64(1), "f": 0.5, "b": true, "s": "x"}, recs[0])
	assert.Equal(t, map[string]any{"i": int64(2), "f": nil, "b": false, "s": nil}, recs[1])
	assert.Len(t, ds.Records(1), 1)

	sum := Summarize(ds, 1)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, 4, sum.Columns)
	assert.Len(t, sum.Preview, 1)

	body, err := json.Marshal(sum)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	for _, key := range []string{"dataset_id", "rows", "columns", "column_names", "data_types", "preview", "missing_values"} {
		assert.Contains(t, decoded, key)
	}
}

func TestStore(t *testing.T) {
	var s Store
	_, ok := s.Get()
	assert.False(t, ok)

	ds := parseString(t, "a.csv", "a\n1\n")
	s.Put(ds)
	got, ok := s.Get()
	require.True(t, ok)
	assert.Same(t, ds, got)

	s.Clear()
	_, ok = s.Get()
	assert.False(t, ok)
}
