package records

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var inputValidator = newInputValidator()

func newInputValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterCustomTypeFunc(fieldValue[string], Field[string]{})
	validate.RegisterCustomTypeFunc(fieldValue[bool], Field[bool]{})
	if err := validate.RegisterValidation("maxbytes", maxBytes); err != nil {
		panic(err)
	}
	return validate
}

// maxBytes bounds the encoded length of a string, unlike max which counts
// runes.
func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}
	return len(field.String()) <= limit
}

// fieldValue lets validation tags apply to the wrapped value. An omitted or
// cleared field validates as nil, which omitempty skips.
func fieldValue[T any](value reflect.Value) interface{} {
	field, ok := value.Interface().(Field[T])
	if !ok || field.Value == nil {
		return nil
	}
	return *field.Value
}

// Validate checks input against its validate tags. Failures wrap
// ErrInvalidInput and name the offending JSON fields.
func Validate(input any) error {
	err := inputValidator.Struct(input)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	problems := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		problem := fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag())
		if fieldErr.Param() != "" {
			problem += "=" + fieldErr.Param()
		}
		problems = append(problems, problem)
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
}
