// Package metrics classifies the fields of flat evaluation records into
// metrics versus plain data, and derives the display labels, colors, and
// aggregate statistics the dashboard views are built from. Everything in
// this package is pure; there is no I/O.
package metrics

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Metric is the canonical typed shape of one evaluation metric attached to
// an execution: a numeric score plus the evaluator's textual reasoning.
type Metric struct {
	Value  float64 `json:"value" mapstructure:"value"`
	Reason string  `json:"reason" mapstructure:"reason"`
}

// ScoreField is a metric surfaced from a record, ready for table rendering.
type ScoreField struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason"`
}

// ReasonField is a standalone textual reasoning field.
type ReasonField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// TextField is any remaining scalar field a view may want to render.
type TextField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Extraction is the classified view of one record. The three lists are
// disjoint and ordered by key so output is deterministic.
type Extraction struct {
	Scores     []ScoreField  `json:"scores"`
	Reasons    []ReasonField `json:"reasons"`
	TextFields []TextField   `json:"textFields"`
}

// scoreVocabulary marks field names that indicate a numeric quality score
// when no metric-shaped structure is present (legacy/ad-hoc records).
var scoreVocabulary = []string{
	"score", "rate", "rating", "accuracy",
	"precision", "recall", "f1", "metric",
}

// reasonVocabulary marks field names that carry evaluator reasoning text.
var reasonVocabulary = []string{
	"reason", "explanation", "justification", "rationale",
}

// coreFields are identifiers, payload columns, and timestamps that must
// never be classified as metrics even when their values are numeric.
// Keys are compared after lowercasing and stripping underscores, so both
// camelCase and snake_case variants match.
var coreFields = map[string]struct{}{
	"id":                {},
	"runid":             {},
	"workflowid":        {},
	"sessionid":         {},
	"parentexecutionid": {},
	"input":             {},
	"expectedoutput":    {},
	"groundtruth":       {},
	"output":            {},
	"duration":          {},
	"totaltokens":       {},
	"executionts":       {},
	"creationts":        {},
	"startts":           {},
	"finishts":          {},
	"version":           {},
	"questioncount":     {},
}

// Extract classifies the fields of a flat record. Structural detection
// (a nested value with a numeric "value" property) takes precedence; the
// name-based vocabulary is the fallback for legacy records whose scores
// are plain numbers. Non-map input yields the empty extraction.
func Extract(record map[string]any) Extraction {
	out := Extraction{
		Scores:     []ScoreField{},
		Reasons:    []ReasonField{},
		TextFields: []TextField{},
	}

	if len(record) == 0 {
		return out
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		value := record[key]

		if IsCoreField(key) {
			if s, ok := stringify(value); ok {
				out.TextFields = append(out.TextFields, TextField{
					Key:   key,
					Label: FormatFieldName(key),
					Text:  s,
				})
			}

			continue
		}

		if m, ok := asMetric(value); ok {
			out.Scores = append(out.Scores, ScoreField{
				Key:    key,
				Label:  FormatFieldName(key),
				Value:  m.Value,
				Reason: m.Reason,
			})

			continue
		}

		if matchesVocabulary(key, reasonVocabulary) {
			s, _ := stringify(value)
			out.Reasons = append(out.Reasons, ReasonField{
				Key:   key,
				Label: FormatFieldName(key),
				Text:  s,
			})

			continue
		}

		if n, ok := coerceFloat(value); ok &&
			matchesVocabulary(key, scoreVocabulary) {
			out.Scores = append(out.Scores, ScoreField{
				Key:    key,
				Label:  FormatFieldName(key),
				Value:  n,
				Reason: "",
			})

			continue
		}

		if s, ok := stringify(value); ok {
			out.TextFields = append(out.TextFields, TextField{
				Key:   key,
				Label: FormatFieldName(key),
				Text:  s,
			})
		}
	}

	return out
}

// IsCoreField reports whether the key names an identifier, payload, or
// timestamp column rather than a candidate metric.
func IsCoreField(key string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(key), "_", "")
	_, ok := coreFields[normalized]

	return ok
}

// asMetric attempts structural detection: the value must be metric-shaped
// with a numeric "value" property, regardless of the field's name.
func asMetric(value any) (Metric, bool) {
	switch v := value.(type) {
	case Metric:
		return v, true
	case *Metric:
		if v == nil {
			return Metric{}, false
		}

		return *v, true
	case map[string]any:
		raw, exists := v["value"]
		if !exists {
			return Metric{}, false
		}

		n, ok := coerceFloat(raw)
		if !ok {
			return Metric{}, false
		}

		var m Metric
		if err := weakDecode(v, &m); err != nil {
			return Metric{}, false
		}

		m.Value = n

		return m, true
	default:
		return Metric{}, false
	}
}

// weakDecode maps a raw record value onto a Metric, tolerating stringly
// typed numbers and missing reason fields.
func weakDecode(input any, out *Metric) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

// matchesVocabulary reports whether the lowercased key contains any of the
// vocabulary substrings.
func matchesVocabulary(key string, vocabulary []string) bool {
	lower := strings.ToLower(key)

	for _, word := range vocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}

	return false
}

// coerceFloat converts numeric-ish values to float64. Strings are parsed
// best-effort; anything else fails.
func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// CoerceFloat parses a value as float64, defaulting to 0 on failure. This
// is the best-effort coercion applied to raw metric_value payloads.
func CoerceFloat(value any) float64 {
	n, ok := coerceFloat(value)
	if !ok {
		return 0
	}

	return n
}

// stringify renders scalar values for passthrough text fields. Booleans and
// numbers are formatted; nil, maps, and slices are skipped.
func stringify(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}
