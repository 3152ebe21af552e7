// Package stepconf parses step inputs from environment variables into tagged structs.
package stepconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
)

// ErrNotStructPtr indicates a type is not a pointer to a struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// ErrNoValue is returned for a required input without a value.
var ErrNoValue = errors.New("required variable is not present")

// ErrInvalidValue is returned for a value that cannot be parsed into the field's type.
var ErrInvalidValue = errors.New("value could not be parsed")

// Secret is a string whose value is masked when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 5)
}

// EnvGetter looks up input values.
type EnvGetter interface {
	Get(key string) string
}

// Parse populates a struct with the values of the environment variables named in its env tags.
//
// Supported tag options:
//   - required: the value must not be empty
//   - file, dir: the value must be an existing file or directory
//   - opt[a,b,'c,d']: the value must be one of the options
//   - range[min..max]: the numeric value must be between min and max, inclusive
func Parse(input interface{}) error {
	return parse(input, env.NewRepository())
}

func parse(input interface{}, envGetter EnvGetter) error {
	if input == nil {
		return ErrNotStructPtr
	}

	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Ptr {
		return ErrNotStructPtr
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}

	var errs []string
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := setField(v.Field(i), value, constraint); err != nil {
			errs = append(errs, fmt.Sprintf("- %s: %s", key, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(append([]string{"failed to parse config:"}, errs...), "\n"))
	}
	return nil
}

func parseTag(tag string) (string, string) {
	if i := strings.Index(tag, ","); i >= 0 {
		return tag[:i], tag[i+1:]
	}
	return tag, ""
}

func setField(field reflect.Value, value, constraint string) error {
	if err := validateConstraint(value, constraint); err != nil {
		return err
	}

	if value == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		ptr := reflect.New(field.Type().Elem())
		if err := setValue(ptr.Elem(), value); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}
	return setValue(field, value)
}

func setValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidValue, value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidValue, value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidValue, value)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidValue, value)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	default:
		return fmt.Errorf("unsupported type: %s", field.Type())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
		return nil
	case constraint == "required":
		if value == "" {
			return ErrNoValue
		}
	case constraint == "file", constraint == "dir":
		return checkPath(value, constraint == "dir")
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		return validateOption(value, constraint)
	case strings.HasPrefix(constraint, "range[") && strings.HasSuffix(constraint, "]"):
		if value == "" {
			return nil
		}
		return validateRange(value, constraint)
	default:
		return fmt.Errorf("invalid constraint (%s)", constraint)
	}
	return nil
}

func checkPath(path string, dir bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("path does not exist")
		}
		return err
	}
	if dir && !info.IsDir() {
		return errors.New("not a directory")
	}
	if !dir && info.IsDir() {
		return errors.New("not a file")
	}
	return nil
}

func validateOption(value, constraint string) error {
	for _, opt := range getOptions(constraint) {
		if opt == value {
			return nil
		}
	}
	return fmt.Errorf("value is not in value options (%s)", value)
}

// getOptions splits the options of opt[...] on commas outside single quotes.
func getOptions(constraint string) []string {
	list := strings.TrimSuffix(strings.TrimPrefix(constraint, "opt["), "]")

	var opts []string
	var current strings.Builder
	quoted := false
	for _, r := range list {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			opts = append(opts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(opts, current.String())
}

func validateRange(value, constraint string) error {
	bounds := strings.TrimSuffix(strings.TrimPrefix(constraint, "range["), "]")
	parts := strings.Split(bounds, "..")
	if len(parts) != 2 {
		return fmt.Errorf("invalid range constraint (%s)", constraint)
	}

	low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return fmt.Errorf("invalid range constraint (%s)", constraint)
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return fmt.Errorf("invalid range constraint (%s)", constraint)
	}

	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidValue, value)
	}
	if n < low || n > high {
		return fmt.Errorf("value %s is out of range [%s..%s]", value, parts[0], parts[1])
	}
	return nil
}
