package link

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrFieldCount is returned when a telemetry line has the wrong number of fields.
	ErrFieldCount = errors.New("telemetry field count mismatch")
	// ErrFieldSyntax is returned when a telemetry field is not a base-10 integer.
	ErrFieldSyntax = errors.New("telemetry field is not an integer")
)

// ParseRow decodes a comma separated telemetry line into width integers.
func ParseRow(line string, width int) ([]int64, error) {
	fields := strings.Split(line, ",")
	if len(fields) != width {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), width)
	}
	row := make([]int64, width)
	for i, field := range fields {
		value, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d %q", ErrFieldSyntax, i, field)
		}
		row[i] = value
	}
	return row, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrFieldCount):
		return "field_count"
	case errors.Is(err, ErrFieldSyntax):
		return "field_syntax"
	default:
		return "width"
	}
}

// commandLabel returns the leading mnemonic of an encoded command.
func commandLabel(cmd string) string {
	end := 0
	for end < len(cmd) {
		c := cmd[end]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			break
		}
		end++
	}
	if end == 0 {
		return "unknown"
	}
	return cmd[:end]
}
