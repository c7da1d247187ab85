package dataset

import (
	"fmt"
	"math"
	"reflect"
)

const (
	TypeColumnToExist            = "expect_column_to_exist"
	TypeTableRowCountToBeBetween = "expect_table_row_count_to_be_between"
	TypeColumnValuesToNotBeNull  = "expect_column_values_to_not_be_null"
	TypeColumnValuesToBeInSet    = "expect_column_values_to_be_in_set"
	TypeColumnValuesToBeBetween  = "expect_column_values_to_be_between"

	partialUnexpectedListSize = 20
)

// KnownExpectations lists every expectation type a Dataset can evaluate.
func KnownExpectations() []string {
	return []string{
		TypeColumnToExist,
		TypeTableRowCountToBeBetween,
		TypeColumnValuesToNotBeNull,
		TypeColumnValuesToBeInSet,
		TypeColumnValuesToBeBetween,
	}
}

// Result is the outcome of one expectation.
type Result struct {
	Success           bool              `json:"success"`
	ExpectationConfig ExpectationConfig `json:"expectation_config"`
	Result            map[string]any    `json:"result,omitempty"`
	Exception         string            `json:"exception_info,omitempty"`
}

// Apply evaluates cfg and, when it is well formed, records it in the suite.
func (d *Dataset) Apply(cfg ExpectationConfig) Result {
	if cfg.Kwargs == nil {
		cfg.Kwargs = map[string]any{}
	}
	result := d.evaluate(cfg)
	if result.Exception == "" {
		d.suite.Add(cfg)
	}
	return result
}

func (d *Dataset) ExpectColumnToExist(column string) Result {
	return d.Apply(ExpectationConfig{Type: TypeColumnToExist, Kwargs: map[string]any{"column": column}})
}

// ExpectTableRowCountToBeBetween checks the row count. A nil bound is open.
func (d *Dataset) ExpectTableRowCountToBeBetween(minValue, maxValue *int) Result {
	kwargs := map[string]any{"min_value": nil, "max_value": nil}
	if minValue != nil {
		kwargs["min_value"] = int64(*minValue)
	}
	if maxValue != nil {
		kwargs["max_value"] = int64(*maxValue)
	}
	return d.Apply(ExpectationConfig{Type: TypeTableRowCountToBeBetween, Kwargs: kwargs})
}

func (d *Dataset) ExpectColumnValuesToNotBeNull(column string) Result {
	return d.Apply(ExpectationConfig{Type: TypeColumnValuesToNotBeNull, Kwargs: map[string]any{"column": column}})
}

func (d *Dataset) ExpectColumnValuesToBeInSet(column string, valueSet []any) Result {
	return d.Apply(ExpectationConfig{
		Type:   TypeColumnValuesToBeInSet,
		Kwargs: map[string]any{"column": column, "value_set": valueSet},
	})
}

// ExpectColumnValuesToBeBetween checks non-missing values against numeric
// bounds. A nil bound is open.
func (d *Dataset) ExpectColumnValuesToBeBetween(column string, minValue, maxValue *float64) Result {
	kwargs := map[string]any{"column": column, "min_value": nil, "max_value": nil}
	if minValue != nil {
		kwargs["min_value"] = *minValue
	}
	if maxValue != nil {
		kwargs["max_value"] = *maxValue
	}
	return d.Apply(ExpectationConfig{Type: TypeColumnValuesToBeBetween, Kwargs: kwargs})
}

func (d *Dataset) evaluate(cfg ExpectationConfig) Result {
	result, err := d.dispatch(cfg)
	if err != nil {
		return Result{Success: false, ExpectationConfig: cfg, Exception: err.Error()}
	}
	result.ExpectationConfig = cfg
	return result
}

func (d *Dataset) dispatch(cfg ExpectationConfig) (Result, error) {
	switch cfg.Type {
	case TypeColumnToExist:
		column, err := requireColumnArg(cfg)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: d.frame.HasColumn(column)}, nil
	case TypeTableRowCountToBeBetween:
		minValue, maxValue, err := bounds(cfg)
		if err != nil {
			return Result{}, err
		}
		rows := float64(d.frame.NumRows())
		return Result{
			Success: within(rows, minValue, maxValue),
			Result:  map[string]any{"observed_value": d.frame.NumRows()},
		}, nil
	case TypeColumnValuesToNotBeNull:
		values, err := d.columnValues(cfg)
		if err != nil {
			return Result{}, err
		}
		unexpected := make([]any, 0)
		for _, value := range values {
			if value == nil {
				unexpected = append(unexpected, value)
			}
		}
		return columnMapResult(len(values), 0, unexpected), nil
	case TypeColumnValuesToBeInSet:
		values, err := d.columnValues(cfg)
		if err != nil {
			return Result{}, err
		}
		set, ok := cfg.Kwargs["value_set"].([]any)
		if !ok {
			return Result{}, fmt.Errorf("%s requires a value_set list", cfg.Type)
		}
		return mapNonMissing(values, func(value any) bool {
			for _, allowed := range set {
				if sameValue(value, allowed) {
					return true
				}
			}
			return false
		}), nil
	case TypeColumnValuesToBeBetween:
		values, err := d.columnValues(cfg)
		if err != nil {
			return Result{}, err
		}
		minValue, maxValue, err := bounds(cfg)
		if err != nil {
			return Result{}, err
		}
		return mapNonMissing(values, func(value any) bool {
			number, ok := toFloat(value)
			return ok && within(number, minValue, maxValue)
		}), nil
	default:
		return Result{}, fmt.Errorf("unknown expectation type %q", cfg.Type)
	}
}

func (d *Dataset) columnValues(cfg ExpectationConfig) ([]any, error) {
	column, err := requireColumnArg(cfg)
	if err != nil {
		return nil, err
	}
	values, ok := d.frame.Column(column)
	if !ok {
		return nil, fmt.Errorf("column %q not found", column)
	}
	return values, nil
}

func requireColumnArg(cfg ExpectationConfig) (string, error) {
	column := cfg.Column()
	if column == "" {
		return "", fmt.Errorf("%s requires a column", cfg.Type)
	}
	return column, nil
}

func bounds(cfg ExpectationConfig) (*float64, *float64, error) {
	minValue, err := optionalNumber(cfg.Kwargs["min_value"])
	if err != nil {
		return nil, nil, fmt.Errorf("%s min_value: %w", cfg.Type, err)
	}
	maxValue, err := optionalNumber(cfg.Kwargs["max_value"])
	if err != nil {
		return nil, nil, fmt.Errorf("%s max_value: %w", cfg.Type, err)
	}
	if minValue == nil && maxValue == nil {
		return nil, nil, fmt.Errorf("%s requires min_value or max_value", cfg.Type)
	}
	if minValue != nil && maxValue != nil && *minValue > *maxValue {
		return nil, nil, fmt.Errorf("%s min_value is greater than max_value", cfg.Type)
	}
	return minValue, maxValue, nil
}

func optionalNumber(value any) (*float64, error) {
	if value == nil {
		return nil, nil
	}
	number, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("expected a number, got %T", value)
	}
	return &number, nil
}

func within(value float64, minValue, maxValue *float64) bool {
	if minValue != nil && value < *minValue {
		return false
	}
	if maxValue != nil && value > *maxValue {
		return false
	}
	return true
}

// mapNonMissing applies check to every non-missing value.
func mapNonMissing(values []any, check func(any) bool) Result {
	missing := 0
	unexpected := make([]any, 0)
	for _, value := range values {
		if value == nil {
			missing++
			continue
		}
		if !check(value) {
			unexpected = append(unexpected, value)
		}
	}
	return columnMapResult(len(values), missing, unexpected)
}

func columnMapResult(elements, missing int, unexpected []any) Result {
	evaluated := elements - missing
	percent := 0.0
	if evaluated > 0 {
		percent = 100 * float64(len(unexpected)) / float64(evaluated)
	}
	partial := unexpected
	if len(partial) > partialUnexpectedListSize {
		partial = partial[:partialUnexpectedListSize]
	}
	return Result{
		Success: len(unexpected) == 0,
		Result: map[string]any{
			"element_count":           elements,
			"missing_count":           missing,
			"unexpected_count":        len(unexpected),
			"unexpected_percent":      percent,
			"partial_unexpected_list": partial,
		},
	}
}

func sameValue(left, right any) bool {
	l, lok := toFloat(left)
	r, rok := toFloat(right)
	if lok && rok {
		return l == r
	}
	return reflect.DeepEqual(left, right)
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		if math.IsNaN(typed) {
			return 0, false
		}
		return typed, true
	default:
		return 0, false
	}
}
