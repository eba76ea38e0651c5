// Package record turns a queued change-event body into the record shape the
// destination API expects.
package record

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/UKHomeOffice/recordsync/pkg/attribute"
)

var (
	// ErrDecode marks a body that is not a map of field name to attribute
	ErrDecode = errors.New("could not decode record")
	// ErrTransform marks a body whose field names cannot be carried over 1:1
	ErrTransform = errors.New("could not transform record")
)

// Record is one decoded change-event
type Record map[string]attribute.Value

// Field is a destination field value
type Field struct {
	Value interface{} `json:"value"`
}

// Target is a record in the destination API's shape
type Target map[string]Field

// Parse decodes an event body
func Parse(body string, p attribute.Policy) (Record, error) {

	if !utf8.ValidString(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrDecode)
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrDecode)
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrDecode)
	}

	rec := make(Record)
	var err error
	root.ForEach(func(k, v gjson.Result) bool {
		name := k.String()
		if name == "" {
			err = fmt.Errorf("%w: empty field name", ErrTransform)
			return false
		}
		if _, dup := rec[name]; dup {
			err = fmt.Errorf("%w: duplicate field %q", ErrTransform, name)
			return false
		}
		av, perr := attribute.Parse(v, p)
		if errors.Is(perr, attribute.ErrDuplicateField) {
			err = fmt.Errorf("%w: field %q: %w", ErrTransform, name, perr)
			return false
		}
		if perr != nil {
			err = fmt.Errorf("%w: field %q: %w", ErrDecode, name, perr)
			return false
		}
		rec[name] = av
		return true
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Transform wraps every decoded field as {value: ...}
func Transform(r Record) Target {
	t := make(Target, len(r))
	for name, v := range r {
		t[name] = Field{Value: attribute.Decode(v)}
	}
	return t
}

// FieldNames returns the sorted field names of a target record
func FieldNames(t Target) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
