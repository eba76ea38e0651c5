// Package attribute parses and decodes DynamoDB style tagged attribute values,
// the loosely typed field encoding carried in queued change-events.
package attribute

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Tags as they appear on the wire
const (
	TagString    = "S"
	TagNumber    = "N"
	TagBool      = "BOOL"
	TagStringSet = "SS"
	TagList      = "L"
	TagMap       = "M"
	TagNull      = "NULL"
)

// precedence is the order tags are tried in under the Lenient policy
var precedence = []string{TagString, TagNumber, TagBool, TagStringSet, TagList, TagMap}

// ErrDecode is returned for any attribute that does not have a valid tagged shape
var ErrDecode = errors.New("malformed attribute value")

// ErrDuplicateField is returned, along with ErrDecode, for a nested map that
// repeats a key
var ErrDuplicateField = errors.New("duplicate field")

// Kind identifies the populated variant of a Value
type Kind int

// Value kinds
const (
	KindEmpty Kind = iota
	KindString
	KindNumber
	KindBool
	KindStringSet
	KindList
	KindMap
	// KindRaw holds a populated tag whose content has the wrong shape, kept as
	// sent. Only the Lenient policy produces it.
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindStringSet:
		return "string set"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRaw:
		return "raw"
	}
	return "empty"
}

// Policy decides how an attribute with zero or several tags is treated
type Policy int

const (
	// Strict requires exactly one recognised, well typed tag
	Strict Policy = iota
	// Lenient picks the first populated tag by precedence and never fails on
	// tag count. A populated tag with mistyped content is passed through as
	// its raw JSON.
	Lenient
)

func (p Policy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// ParsePolicy maps a configuration value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	}
	return Strict, fmt.Errorf("unknown decode policy %q", s)
}

// Value holds exactly one attribute variant. The zero Value is empty.
type Value struct {
	kind      Kind
	str       string
	num       string
	numQuoted bool
	b         bool
	set       []string
	list      json.RawMessage
	m         map[string]Value
	tag       string
	raw       json.RawMessage
}

// String returns a string attribute
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a number attribute from its decimal text. Text that is not a
// JSON number is kept as a quoted number so it survives encoding.
func Number(n string) Value {
	if r := gjson.Parse(n); !json.Valid([]byte(n)) || r.Type != gjson.Number || r.Raw != n {
		return Value{kind: KindNumber, num: n, numQuoted: true}
	}
	return Value{kind: KindNumber, num: n}
}

// Bool returns a boolean attribute
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// StringSet returns a string set attribute
func StringSet(ss ...string) Value {
	if ss == nil {
		ss = []string{}
	}
	return Value{kind: KindStringSet, set: ss}
}

// List returns a list attribute holding raw JSON. Invalid JSON is kept as a
// JSON string of the same text.
func List(raw json.RawMessage) Value {
	if !json.Valid(raw) {
		b, _ := json.Marshal(string(raw))
		raw = b
	}
	return Value{kind: KindList, list: raw}
}

// Map returns a nested map attribute
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the populated variant
func (v Value) Kind() Kind { return v.kind }

// Parse validates one tagged attribute object according to policy
func Parse(raw gjson.Result, p Policy) (Value, error) {
	if !raw.IsObject() {
		return Value{}, fmt.Errorf("%w: expected an object, got %s", ErrDecode, jsonType(raw))
	}
	if p == Lenient {
		return parseLenient(raw), nil
	}
	return parseStrict(raw)
}

func parseStrict(raw gjson.Result) (Value, error) {
	var tag string
	var content gjson.Result
	n := 0
	raw.ForEach(func(k, v gjson.Result) bool {
		n++
		tag, content = k.String(), v
		return n < 2
	})

	switch {
	case n == 0:
		return Value{}, fmt.Errorf("%w: no tag set", ErrDecode)
	case n > 1:
		return Value{}, fmt.Errorf("%w: more than one tag set", ErrDecode)
	}

	if tag == TagNull {
		if content.Type != gjson.True {
			return Value{}, fmt.Errorf("%w: NULL must be true", ErrDecode)
		}
		return Value{}, nil
	}
	if !known(tag) {
		return Value{}, fmt.Errorf("%w: unsupported tag %q", ErrDecode, tag)
	}
	if content.Type == gjson.Null {
		return Value{}, fmt.Errorf("%w: tag %s is null", ErrDecode, tag)
	}
	return fromTag(tag, content, Strict)
}

// parseLenient never fails. The first tag by precedence that is present and
// not null wins; if its content is mistyped it is kept raw.
func parseLenient(raw gjson.Result) Value {
	for _, tag := range precedence {
		content := raw.Get(tag)
		if !content.Exists() || content.Type == gjson.Null {
			continue
		}
		v, err := fromTag(tag, content, Lenient)
		if err != nil {
			return Value{kind: KindRaw, tag: tag, raw: json.RawMessage(content.Raw)}
		}
		return v
	}
	return Value{}
}

// tagged reports whether r carries a value under the Lenient policy
func tagged(r gjson.Result) bool {
	if !r.IsObject() {
		return false
	}
	if r.Get(TagNull).Type == gjson.True {
		return true
	}
	for _, tag := range precedence {
		if c := r.Get(tag); c.Exists() && c.Type != gjson.Null {
			return true
		}
	}
	return false
}

func known(tag string) bool {
	for _, t := range precedence {
		if t == tag {
			return true
		}
	}
	return false
}

func fromTag(tag string, c gjson.Result, p Policy) (Value, error) {
	switch tag {
	case TagString:
		if c.Type == gjson.String {
			return String(c.Str), nil
		}
	case TagNumber:
		switch c.Type {
		case gjson.Number:
			return Number(c.Raw), nil
		case gjson.String:
			if _, err := strconv.ParseFloat(c.Str, 64); err == nil {
				return Value{kind: KindNumber, num: c.Str, numQuoted: true}, nil
			}
		}
	case TagBool:
		switch c.Type {
		case gjson.True:
			return Bool(true), nil
		case gjson.False:
			return Bool(false), nil
		}
	case TagStringSet:
		if c.IsArray() {
			ss := []string{}
			ok := true
			c.ForEach(func(_, e gjson.Result) bool {
				if e.Type != gjson.String {
					ok = false
					return false
				}
				ss = append(ss, e.Str)
				return true
			})
			if ok {
				return StringSet(ss...), nil
			}
		}
	case TagList:
		if c.IsArray() {
			return List(json.RawMessage(c.Raw)), nil
		}
	case TagMap:
		if c.IsObject() {
			m := map[string]Value{}
			var err error
			c.ForEach(func(k, e gjson.Result) bool {
				if _, dup := m[k.String()]; dup {
					err = fmt.Errorf("%w: %w: nested %q", ErrDecode, ErrDuplicateField, k.String())
					return false
				}
				if p == Lenient && !tagged(e) {
					err = fmt.Errorf("%w: nested field %q is not tagged", ErrDecode, k.String())
					return false
				}
				var v Value
				v, err = Parse(e, p)
				if err != nil {
					err = fmt.Errorf("nested field %q: %w", k.String(), err)
					return false
				}
				m[k.String()] = v
				return true
			})
			if err != nil {
				return Value{}, err
			}
			return Map(m), nil
		}
	}
	return Value{}, fmt.Errorf("%w: tag %s holds %s", ErrDecode, tag, jsonType(c))
}

func jsonType(r gjson.Result) string {
	switch {
	case !r.Exists():
		return "nothing"
	case r.IsObject():
		return "an object"
	case r.IsArray():
		return "an array"
	}
	switch r.Type {
	case gjson.String:
		return "a string"
	case gjson.Number:
		return "a number"
	case gjson.True, gjson.False:
		return "a boolean"
	}
	return "null"
}

// wrapped mirrors the destination field shape for nested maps
type wrapped struct {
	Value interface{} `json:"value"`
}

// Decode converts a Value to a plain value. It never fails: an empty Value
// decodes to nil, a nested map to its canonical JSON text and a raw Value to
// its content as sent, or the compact text of a raw map.
func Decode(v Value) interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.numQuoted {
			return v.num
		}
		return json.Number(v.num)
	case KindBool:
		return v.b
	case KindStringSet:
		return v.set
	case KindList:
		return v.list
	case KindMap:
		out := make(map[string]wrapped, len(v.m))
		for k, e := range v.m {
			out[k] = wrapped{Value: Decode(e)}
		}
		b, err := encode(out)
		if err != nil {
			return fmt.Sprint(out)
		}
		return string(b)
	case KindRaw:
		if v.tag == TagMap {
			var buf bytes.Buffer
			if err := json.Compact(&buf, v.raw); err != nil {
				return string(v.raw)
			}
			return buf.String()
		}
		return v.raw
	}
	return nil
}

// encode marshals without HTML escaping so text reaches the destination as sent
func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalJSON encodes the Value in its tagged form
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return encode(map[string]string{TagString: v.str})
	case KindNumber:
		if v.numQuoted {
			return encode(map[string]string{TagNumber: v.num})
		}
		return encode(map[string]json.Number{TagNumber: json.Number(v.num)})
	case KindBool:
		return encode(map[string]bool{TagBool: v.b})
	case KindStringSet:
		return encode(map[string][]string{TagStringSet: v.set})
	case KindList:
		return encode(map[string]json.RawMessage{TagList: v.list})
	case KindMap:
		return encode(map[string]map[string]Value{TagMap: v.m})
	case KindRaw:
		return encode(map[string]json.RawMessage{v.tag: v.raw})
	}
	return []byte(`{"NULL":true}`), nil
}

// UnmarshalJSON parses a tagged attribute under the Strict policy
func (v *Value) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("%w: invalid JSON", ErrDecode)
	}
	parsed, err := Parse(gjson.ParseBytes(b), Strict)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
