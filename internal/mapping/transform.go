package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one source row keyed by column name, as scanned from the database.
type Record map[string]any

// Payload is the destination-shaped record: destination parameter name to the
// transformed string value, ready for form encoding.
type Payload map[string]string

// FieldError records a single field that failed its transform. The field is
// omitted from the payload; the record itself is still submitted.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// ErrNoRequiredFields means every required destination parameter was missing
// or failed its transform, so the record cannot be submitted.
var ErrNoRequiredFields = errors.New("no required fields present")

// Transform maps one source record onto the destination payload using the
// given field mapping. Pure: same record and table always produce the same
// payload. Field-level failures are collected, never fatal; only the total
// absence of required fields fails the record.
func Transform(rec Record, table []Field) (Payload, []FieldError, error) {
	payload := make(Payload, len(table))
	var fieldErrs []FieldError
	requiredPresent := false
	hasRequired := false

	for _, f := range table {
		if f.Required {
			hasRequired = true
		}
		value, ok := rec[f.Source]
		switch f.Kind {
		case KindDate:
			if !ok || value == nil {
				continue
			}
			formatted, err := formatDate(value)
			if err != nil {
				fieldErrs = append(fieldErrs, FieldError{Field: f.Source, Reason: err.Error()})
				continue
			}
			payload[f.Dest] = formatted
		case KindNumeric:
			formatted, err := formatNumeric(value)
			if err != nil {
				fieldErrs = append(fieldErrs, FieldError{Field: f.Source, Reason: err.Error()})
			}
			payload[f.Dest] = formatted
		case KindJSON:
			if !ok || value == nil {
				continue
			}
			raw, err := passthroughJSON(value)
			if err != nil {
				fieldErrs = append(fieldErrs, FieldError{Field: f.Source, Reason: err.Error()})
				continue
			}
			payload[f.Dest] = raw
		default:
			if !ok || value == nil {
				payload[f.Dest] = ""
				continue
			}
			payload[f.Dest] = strings.TrimSpace(stringify(value))
		}
		if f.Required {
			if v, present := payload[f.Dest]; present && v != "" && v != "0" {
				requiredPresent = true
			}
		}
	}

	if hasRequired && !requiredPresent {
		return nil, fieldErrs, ErrNoRequiredFields
	}
	return payload, fieldErrs, nil
}

// dateLayouts covers the shapes the source store actually produces: full ISO
// timestamps with and without fractional seconds, and bare dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func formatDate(value any) (string, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Format("2006-01-02"), nil
	case string:
		return parseDateString(v)
	case []byte:
		return parseDateString(string(v))
	default:
		return "", fmt.Errorf("unsupported date type %T", value)
	}
}

func parseDateString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", s)
}

func formatNumeric(value any) (string, error) {
	if value == nil {
		return "0", nil
	}
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', 2, 64), nil
	case int:
		return strconv.FormatFloat(float64(v), 'f', 2, 64), nil
	case int32:
		return strconv.FormatFloat(float64(v), 'f', 2, 64), nil
	case int64:
		return strconv.FormatFloat(float64(v), 'f', 2, 64), nil
	case string:
		return parseNumericString(v)
	case []byte:
		return parseNumericString(string(v))
	default:
		return "0", fmt.Errorf("unsupported numeric type %T", value)
	}
}

func parseNumericString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0", nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "0", fmt.Errorf("unparseable number %q", s)
	}
	return strconv.FormatFloat(f, 'f', 2, 64), nil
}

func passthroughJSON(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return "", fmt.Errorf("invalid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return "", fmt.Errorf("invalid JSON")
		}
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal JSON: %w", err)
		}
		return string(data), nil
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
