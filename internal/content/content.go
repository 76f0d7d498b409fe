// Package content holds the few things the review engine needs to know about
// questionnaire data. The data itself is opaque JSON shaped as
//
//	{"<questiongroup keyword>": [{"<question keyword>": <value>, ...}, ...], ...}
//
// and is owned by the external configuration engine. This package compares
// two data documents by questiongroup, checks the outer shape, defines the
// validator contract, and reads the handful of fields used in mails and
// permission checks.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Data is a decoded questionnaire document.
type Data map[string][]map[string]any

// Validator is the contract of the external configuration engine: it
// returns the cleaned data or field-level errors keyed by question path.
type Validator interface {
	Clean(ctx context.Context, data json.RawMessage, configurationCode string) (json.RawMessage, map[string]string, error)
}

// Decode parses raw questionnaire data. Empty input decodes to an empty
// document.
func Decode(raw json.RawMessage) (Data, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Data{}, nil
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decoding questionnaire data: %w", err)
	}
	if d == nil {
		d = Data{}
	}
	return d, nil
}

// Compare returns the sorted keywords of the questiongroups that differ
// between a and b: groups present in only one document plus groups whose
// entries are not identical.
func Compare(a, b Data) []string {
	diff := make(map[string]struct{})
	for key, groupA := range a {
		groupB, ok := b[key]
		if !ok || !reflect.DeepEqual(groupA, groupB) {
			diff[key] = struct{}{}
		}
	}
	for key := range b {
		if _, ok := a[key]; !ok {
			diff[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CompareRaw decodes both documents and compares them.
func CompareRaw(a, b json.RawMessage) ([]string, error) {
	da, err := Decode(a)
	if err != nil {
		return nil, err
	}
	db, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return Compare(da, db), nil
}

// ShapeValidator is the built-in Validator. It only enforces the outer
// shape (object of arrays of objects) and leaves field validation to the
// configuration engine.
type ShapeValidator struct{}

// Clean implements Validator.
func (ShapeValidator) Clean(_ context.Context, raw json.RawMessage, _ string) (json.RawMessage, map[string]string, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, map[string]string{"": "data must be a JSON object"}, nil
	}

	errs := make(map[string]string)
	for key, value := range generic {
		entries, ok := value.([]any)
		if !ok {
			errs[key] = "questiongroup must be a list"
			continue
		}
		for i, entry := range entries {
			if _, ok := entry.(map[string]any); !ok {
				errs[fmt.Sprintf("%s.%d", key, i)] = "questiongroup entry must be an object"
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}

	cleaned, err := json.Marshal(generic)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding cleaned data: %w", err)
	}
	return cleaned, nil, nil
}

// Country returns the country of a questionnaire (qg_location.country), the
// scope used by country-bound grants. Empty when not set.
func Country(d Data) string {
	return firstString(d, "qg_location", "country")
}

// Name returns the display name of a questionnaire in the given locale.
// Names may be stored as a plain string or as a map of locale to string.
// Falls back to English, then to any translation, then to "".
func Name(d Data, locale string) string {
	group, ok := d["qg_name"]
	if !ok || len(group) == 0 {
		return ""
	}
	switch v := group[0]["name"].(type) {
	case string:
		return v
	case map[string]any:
		for _, loc := range []string{locale, "en"} {
			if s, ok := v[loc].(string); ok && s != "" {
				return s
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstString(d Data, group, question string) string {
	entries, ok := d[group]
	if !ok || len(entries) == 0 {
		return ""
	}
	s, _ := entries[0][question].(string)
	return strings.TrimSpace(s)
}
