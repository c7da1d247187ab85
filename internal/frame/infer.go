package frame

import (
	"strconv"
	"strings"
)

// DefaultNAValues are the tokens read as missing values.
var DefaultNAValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null",
}

// NASet is a lookup of missing-value tokens.
type NASet map[string]struct{}

// NewNASet returns the default tokens plus extra.
func NewNASet(extra ...string) NASet {
	set := make(NASet, len(DefaultNAValues)+len(extra))
	for _, value := range DefaultNAValues {
		set[value] = struct{}{}
	}
	for _, value := range extra {
		set[value] = struct{}{}
	}
	return set
}

func (s NASet) Contains(value string) bool {
	_, ok := s[value]
	return ok
}

// InferColumn converts raw text cells to the narrowest type every non-missing
// cell fits: int64, then float64, then bool, then string.
func InferColumn(raw []string, na NASet) []any {
	out := make([]any, len(raw))
	missing := make([]bool, len(raw))
	for i, value := range raw {
		missing[i] = na.Contains(strings.TrimSpace(value))
	}

	switch {
	case allParse(raw, missing, func(v string) bool { _, err := strconv.ParseInt(v, 10, 64); return err == nil }):
		for i, value := range raw {
			if !missing[i] {
				out[i], _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			}
		}
	case allParse(raw, missing, func(v string) bool { _, err := strconv.ParseFloat(v, 64); return err == nil }):
		for i, value := range raw {
			if !missing[i] {
				out[i], _ = strconv.ParseFloat(strings.TrimSpace(value), 64)
			}
		}
	case allParse(raw, missing, func(v string) bool { _, ok := parseBool(v); return ok }):
		for i, value := range raw {
			if !missing[i] {
				out[i], _ = parseBool(value)
			}
		}
	default:
		for i, value := range raw {
			if !missing[i] {
				out[i] = value
			}
		}
	}
	return out
}

func allParse(raw []string, missing []bool, ok func(string) bool) bool {
	seen := false
	for i, value := range raw {
		if missing[i] {
			continue
		}
		seen = true
		if !ok(strings.TrimSpace(value)) {
			return false
		}
	}
	return seen
}

func parseBool(value string) (bool, bool) {
	switch strings.TrimSpace(value) {
	case "True", "TRUE", "true":
		return true, true
	case "False", "FALSE", "false":
		return false, true
	default:
		return false, false
	}
}
