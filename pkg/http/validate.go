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

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code" example:"ERR_REQUIRED"`
	Field   string `json:"field,omitempty" example:"horizon"`
	Message string `json:"message" example:"horizon is required"`
	Param   string `json:"param,omitempty" example:"1440"`
}

var validate = newValidator()

// newValidator reports fields by the name the client sent them under.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"param", "query", "json"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest fills `default` tags, binds path and query
// parameters into req and validates it.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	var b echo.DefaultBinder
	if err := b.BindPathParams(c, req); err != nil {
		return toValidationErrors(err)
	}
	if err := b.BindQueryParams(c, req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		return []ValidationError{{Code: "ERR_BIND", Message: msg}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: describe(fe),
			Param:   fe.Param(),
		})
	}
	return out
}

var ruleText = map[string]string{
	"gt":    "greater than",
	"gte":   "at least",
	"lt":    "less than",
	"lte":   "at most",
	"min":   "at least",
	"max":   "at most",
	"oneof": "one of",
}

func describe(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return fe.Field() + " is required"
	}
	text, ok := ruleText[fe.Tag()]
	if !ok {
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	param := fe.Param()
	if fe.Tag() == "oneof" {
		param = strings.ReplaceAll(param, " ", ", ")
	}
	if fe.Kind() == reflect.String && (fe.Tag() == "min" || fe.Tag() == "max") {
		param += " characters"
	}
	return fmt.Sprintf("%s must be %s %s", fe.Field(), text, param)
}
