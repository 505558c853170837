package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/ops-copilot/internal/domain"
)

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

// getAmountField reads a numeric field but returns it as a string, the form
// the ledger stores. Numbers keep their JSON rendering; numeric strings are
// passed through for the analysis-side coercion to judge.
func getAmountField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return s, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

func getFloat64Field(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("field %q is not numeric: %q", key, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

func getLineItems(m map[string]interface{}, key string) ([]domain.LineItem, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	slice, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want array", key, v)
	}

	items := make([]domain.LineItem, 0, len(slice))
	for i, el := range slice {
		obj, ok := el.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("line item %d is %T, want object", i, el)
		}
		desc, err := getStringField(obj, "description", false)
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		price, err := getFloat64Field(obj, "price")
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		items = append(items, domain.LineItem{Description: desc, Price: price})
	}
	return items, nil
}
