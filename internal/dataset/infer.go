package dataset

import (
	"math"
	"strconv"
	"strings"
)

// missingTokens are the cell values read as missing, after trimming spaces.
var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"None": {},
	"#N/A": {},
}

// IsMissing reports whether a raw cell counts as missing.
func IsMissing(cell string) bool {
	_, ok := missingTokens[strings.TrimSpace(cell)]
	return ok
}

// newColumn types a column from its raw cells.
//
// int64 when every present cell is an integer and nothing is missing,
// float64 when every present cell is a number (an empty column included),
// bool for true/false without missing cells and object otherwise.
// Non-finite numbers (inf, -Infinity, NAN) in a float64 column count as missing.
func newColumn(name string, raw []string) *Column {
	n := len(raw)
	c := &Column{
		Name:    name,
		Raw:     raw,
		Values:  make([]float64, n),
		Missing: make([]bool, n),
	}

	present := 0
	allInt, allFloat, allBool := true, true, true
	for i, cell := range raw {
		v := strings.TrimSpace(cell)
		if IsMissing(v) {
			c.Missing[i] = true
			c.Values[i] = math.NaN()
			continue
		}
		present++
		raw[i] = v
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := parseBool(v); !ok {
				allBool = false
			}
		}
	}
	hasMissing := present < n

	switch {
	case present == 0:
		c.Type = TypeFloat64
	case allInt && !hasMissing:
		c.Type = TypeInt64
	case allInt || allFloat:
		c.Type = TypeFloat64
	case allBool && !hasMissing:
		c.Type = TypeBool
	default:
		c.Type = TypeObject
	}

	for i, v := range raw {
		if c.Missing[i] {
			continue
		}
		switch c.Type {
		case TypeInt64, TypeFloat64:
			f, _ := strconv.ParseFloat(v, 64)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				c.Missing[i] = true
				f = math.NaN()
			}
			c.Values[i] = f
		case TypeBool:
			b, _ := parseBool(v)
			if b {
				c.Values[i] = 1
			}
		default:
			c.Values[i] = math.NaN()
		}
	}
	return c
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
