package voice_config

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"reflect"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonName is the json tag name of a field, "" when it has none.
func jsonName(f reflect.StructField) string {
	name := strings.Split(f.Tag.Get("json"), ",")[0]
	if name == "-" {
		return ""
	}
	return name
}

// decodeFields fills the tagged fields of dst (a struct value) from a JSON object one key at a
// time. A value of the wrong type is converted when it is a scalar that converts cleanly and is
// otherwise ignored, leaving the field as it was; each such key is reported in issues. Only a
// document that is not a JSON object is an error. Keys without a field come back as extras,
// compacted so a reload after an indented save yields identical bytes.
func decodeFields(data []byte, dst reflect.Value) (map[string]jsoniter.RawMessage, []string, error) {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	var issues []string

	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		name := jsonName(t.Field(i))
		if name == "" {
			continue
		}

		msg, ok := raw[name]
		if !ok {
			continue
		}
		delete(raw, name)

		field := dst.Field(i)

		// decode over a copy so keys missing from nested objects keep their current values
		next := reflect.New(field.Type())
		next.Elem().Set(field)
		if err := json.Unmarshal(msg, next.Interface()); err == nil {
			field.Set(next.Elem())
			continue
		}

		if v, ok := convertScalar(msg, field.Type()); ok {
			field.Set(v)
			issues = append(issues, fmt.Sprintf("%s: converted %s", name, msg))
			continue
		}

		issues = append(issues, fmt.Sprintf("%s: ignored %s", name, msg))
	}

	if len(raw) == 0 {
		return nil, issues, nil
	}

	for k, v := range raw {
		var buf bytes.Buffer
		if err := stdjson.Compact(&buf, v); err != nil {
			return nil, nil, err
		}
		raw[k] = buf.Bytes()
	}

	return raw, issues, nil
}

// convertScalar handles values such as "80" for an int field or 7 for a string field.
func convertScalar(msg []byte, t reflect.Type) (reflect.Value, bool) {
	var generic interface{}
	if err := json.Unmarshal(msg, &generic); err != nil {
		return reflect.Value{}, false
	}

	var (
		v   interface{}
		err error
	)

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err = cast.ToInt64E(generic)
	case reflect.Float32, reflect.Float64:
		v, err = cast.ToFloat64E(generic)
	case reflect.Bool:
		v, err = cast.ToBoolE(generic)
	case reflect.String:
		v, err = cast.ToStringE(generic)
	default:
		return reflect.Value{}, false
	}
	if err != nil {
		return reflect.Value{}, false
	}

	return reflect.ValueOf(v).Convert(t), true
}

// mergeExtras adds extras to an encoded object without overriding recognized keys.
func mergeExtras(encoded []byte, extras map[string]jsoniter.RawMessage) ([]byte, error) {
	if len(extras) == 0 {
		return encoded, nil
	}
	var merged map[string]jsoniter.RawMessage
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	for k, v := range extras {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
