package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// ValidationError describes one failed request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ReadAndValidateRequest binds the request body into req, applies
// declared defaults, then validates. A non-nil return is the data for
// a 400 response.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validationDetails(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationDetails(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationDetails(err)
	}
	return nil
}

func validationDetails(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msg, params := describeFieldError(fe)
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: msg,
				Params:  params,
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprintf("%v", he.Message)
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
}

// describeFieldError renders a human message plus machine params for
// the tags the request models use.
func describeFieldError(fe validator.FieldError) (string, map[string]interface{}) {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field), nil
	case "oneof":
		opts := strings.Split(param, " ")
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(opts, ", ")),
			map[string]interface{}{"options": opts}
	case "min", "max":
		op, key := "at least", "min"
		if fe.Tag() == "max" {
			op, key = "at most", "max"
		}
		params := map[string]interface{}{key: param}
		switch fe.Type().Kind() {
		case reflect.String:
			return fmt.Sprintf("%s must have %s %s characters", field, op, param), params
		case reflect.Slice, reflect.Array, reflect.Map:
			return fmt.Sprintf("%s must have %s %s items", field, op, param), params
		default:
			return fmt.Sprintf("%s must be %s %s", field, op, param), params
		}
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, param), map[string]interface{}{"min": param}
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, param), map[string]interface{}{"max": param}
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param), map[string]interface{}{"value": param}
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param), map[string]interface{}{"value": param}
	}
	return fmt.Sprintf("%s failed on %s", field, fe.Tag()), nil
}
