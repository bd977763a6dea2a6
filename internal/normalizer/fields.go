package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	FieldPrice    = "price_usd"
	FieldData     = "data_gb"
	FieldValidity = "validity_days"
	FieldPlanName = "plan_name"

	// Capacities without a unit up to this value are already gigabytes.
	gbHeuristicCeiling = 25.0
	suspiciousGB       = 1000.0
)

// note is a non-error observation worth a debug line.
type note string

// parsePrice picks the first non-null of usdPromoPrice, usdPrice and prices.USD.
func parsePrice(fields map[string]any) (*float64, note, *FieldValidationError) {
	raw, ok := firstNonNull(fields, "usdPromoPrice", "usdPrice")
	if !ok {
		switch prices := fields["prices"].(type) {
		case nil:
		case map[string]any:
			raw, ok = prices["USD"], prices["USD"] != nil
		default:
			return nil, "", invalid(FieldPrice, prices, "prices is not an object")
		}
	}
	if !ok {
		return nil, "", nil
	}

	v, numeric := floatValue(raw)
	if !numeric {
		return nil, "", invalid(FieldPrice, raw, "non-numeric price")
	}
	if v < 0 {
		return nil, "", invalid(FieldPrice, raw, "negative price")
	}
	out := round2(v)
	if out == 0 {
		return &out, "zero price", nil
	}
	return &out, "", nil
}

// parseCapacity converts capacity/capacityUnit to gigabytes. Warnings do not imply a nil result.
func parseCapacity(fields map[string]any) (*float64, note, []*FieldValidationError) {
	raw, ok := fields["capacity"]
	if !ok || raw == nil {
		return nil, "", nil
	}
	v, numeric := floatValue(raw)
	if !numeric {
		return nil, "", []*FieldValidationError{invalid(FieldData, raw, "non-numeric capacity")}
	}
	if v < 0 {
		return nil, "", []*FieldValidationError{invalid(FieldData, raw, "negative capacity")}
	}
	if v == 0 {
		return nil, "zero capacity", nil
	}

	var gb float64
	var warns []*FieldValidationError
	unit, _ := fields["capacityUnit"].(string)
	switch u := strings.ToLower(strings.TrimSpace(unit)); u {
	case "mb", "mib":
		gb = v / 1000
	case "gb", "gib":
		gb = v
	case "":
		if v <= gbHeuristicCeiling {
			gb = v
		} else {
			gb = v / 1000
		}
	default:
		gb = v / 1000
		warns = append(warns, invalid(FieldData, unit, "unknown unit, assuming megabytes"))
	}

	out := round2(gb)
	if out > suspiciousGB {
		warns = append(warns, invalid(FieldData, out, "suspiciously large data capacity"))
	}
	return &out, "", warns
}

// parseValidity reads period as whole days.
func parseValidity(fields map[string]any) (*int, *FieldValidationError) {
	raw, ok := fields["period"]
	if !ok || raw == nil {
		return nil, nil
	}
	days, ok := wholeDays(raw)
	if !ok {
		return nil, invalid(FieldValidity, raw, "non-numeric validity period")
	}
	if days < 0 {
		return nil, invalid(FieldValidity, raw, "negative validity period")
	}
	if days > math.MaxInt32 {
		return nil, invalid(FieldValidity, raw, "validity period out of range")
	}
	d := int(days)
	return &d, nil
}

// parsePlanName prefers enName over name; empty and null values fall through.
func parsePlanName(fields map[string]any) (string, *FieldValidationError) {
	raw, ok := firstPresent(fields, "enName", "name")
	if !ok {
		return "", nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", invalid(FieldPlanName, raw, "plan name is not a string")
	}
	return strings.TrimSpace(s), nil
}

// firstNonNull returns the first key whose value is not null.
func firstNonNull(fields map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// firstPresent returns the first key whose value is neither null nor "".
func firstPresent(fields map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// floatValue accepts JSON numbers and numeric strings; non-finite values are rejected.
func floatValue(v any) (float64, bool) {
	var f float64
	var err error
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// wholeDays truncates numeric values toward zero and parses integer strings.
func wholeDays(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	default:
		f, ok := floatValue(v)
		if !ok {
			return 0, false
		}
		// keep the conversion defined; anything past int32 is rejected by the caller
		if f > math.MaxInt32 {
			return math.MaxInt32 + 1, true
		}
		if f < math.MinInt32 {
			return math.MinInt32, true
		}
		return int64(math.Trunc(f)), true
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
