package stepconf

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	blueBold = "\x1b[34;1m"
	reset    = "\x1b[0m"
)

// Print writes the config to stdout, masking secrets.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s%s:\n%s", blueBold, title(t.Name()), reset))

	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Name
		if tag, ok := t.Field(i).Tag.Lookup("env"); ok {
			key, _ = parseTag(tag)
		}

		field := v.Field(i)
		var value string
		switch {
		case field.IsZero():
			value = "<unset>"
		case field.Type() == reflect.TypeOf(Secret("")):
			value = Secret(field.String()).String()
		default:
			value = valueString(field)
		}
		b.WriteString(fmt.Sprintf("- %s: %s\n", key, value))
	}
	return b.String()
}

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		return fmt.Sprintf("%v", v.Interface())
	}
	if v.IsNil() {
		return ""
	}
	return fmt.Sprintf("%v", v.Elem().Interface())
}
