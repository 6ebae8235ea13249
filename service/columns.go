package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/drivelink/config"
)

// ColumnValue is the display form of one telemetry column of a row.
type ColumnValue struct {
	Index int     `json:"index"`
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Raw   int64   `json:"raw"`
	Value float64 `json:"value"`
	Error string  `json:"error,omitempty"`
}

type column struct {
	name    string
	unit    string
	source  string
	program *vm.Program
}

func compileColumns(cfgs []config.ColumnConfig) ([]column, error) {
	columns := make([]column, 0, len(cfgs))
	for i, cfg := range cfgs {
		col := column{name: cfg.Name, unit: cfg.Unit, source: strings.TrimSpace(cfg.Expr)}
		if col.name == "" {
			col.name = fmt.Sprintf("col%d", i)
		}
		if col.source != "" {
			program, err := compileColumnExpr(col.source)
			if err != nil {
				return nil, fmt.Errorf("column %s: compile: %w", col.name, err)
			}
			col.program = program
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func compileColumnExpr(source string) (*vm.Program, error) {
	return expr.Compile(source, expr.Env(map[string]interface{}{"raw": int64(0)}), expr.AsFloat64())
}

func (c column) eval(raw int64) (float64, error) {
	if c.program == nil {
		return float64(raw), nil
	}
	out, err := vm.Run(c.program, map[string]interface{}{"raw": raw})
	if err != nil {
		return 0, err
	}
	var v float64
	switch n := out.(type) {
	case float64:
		v = n
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	default:
		return 0, fmt.Errorf("expression %q returned %T", c.source, out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expression %q is not finite for raw %d", c.source, raw)
	}
	return v, nil
}

// evaluateRow renders every value of row. Columns beyond the configured ones
// get positional names and their raw value.
func evaluateRow(columns []column, row []int64) []ColumnValue {
	values := make([]ColumnValue, 0, len(row))
	for i, raw := range row {
		col := column{name: fmt.Sprintf("col%d", i)}
		if i < len(columns) {
			col = columns[i]
		}
		value := ColumnValue{Index: i, Name: col.name, Unit: col.unit, Raw: raw}
		v, err := col.eval(raw)
		if err != nil {
			value.Error = err.Error()
		} else {
			value.Value = v
		}
		values = append(values, value)
	}
	return values
}
