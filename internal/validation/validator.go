package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs using `validate` tags.
//
// Supported rules: required, min=N, max=N, oneof=a b c. min and max bound
// numbers by value and strings by length.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldName(fieldType), err)
		}
	}

	return nil
}

func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	// For pointers, required means non-nil; a pointed-to zero is allowed.
	isPtr := field.Kind() == reflect.Ptr
	if isPtr {
		if field.IsNil() {
			if strings.Contains(tag, "required") {
				return fmt.Errorf("field is required")
			}
			return nil
		}
		field = field.Elem()
	}

	for _, rule := range strings.Split(tag, ",") {
		ruleName, arg, _ := strings.Cut(rule, "=")

		switch ruleName {
		case "required":
			if !isPtr && field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min", "max":
			limit, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("bad %s rule %q", ruleName, arg)
			}
			n, ok := measure(field)
			if !ok {
				continue
			}
			if ruleName == "min" && n < limit {
				return fmt.Errorf("must be at least %s", arg)
			}
			if ruleName == "max" && n > limit {
				return fmt.Errorf("must be at most %s", arg)
			}

		case "oneof":
			if field.Kind() != reflect.String {
				continue
			}
			s := strings.ToLower(field.String())
			found := false
			for _, opt := range strings.Fields(arg) {
				if s == opt {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("must be one of %s", strings.Join(strings.Fields(arg), ", "))
			}
		}
	}

	return nil
}

// measure returns a number's value or a string's or slice's length.
func measure(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	case reflect.String, reflect.Slice:
		return float64(field.Len()), true
	}
	return 0, false
}
