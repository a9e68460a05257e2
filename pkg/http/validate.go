package http

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"VolSurface/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var (
	validate  *validator.Validate
	tickerExp = regexp.MustCompile(`^[A-Za-z0-9^][A-Za-z0-9.\-]{0,14}$`)
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func init() {
	validate = validator.New()
	// equity and index symbols: SPY, BRK.B, ^SPX
	_ = validate.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerExp.MatchString(fl.Field().String())
	})
	// anything util.ParseTime accepts
	_ = validate.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, ok := util.ParseTime(fl.Field().String())
		return ok
	})
	// report json/query names rather than Go field names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json", "param", "form"} {
			name := strings.Split(f.Tag.Get(tag), ",")[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
}

// Validate runs the shared validator on a struct outside of a request.
func Validate(v interface{}) error {
	return validate.Struct(v)
}

// ReadAndValidateRequest binds req from the path, query and body, fills `default`
// tags, then validates. It returns nil or a []ValidationError for the response body.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Params:  fieldParams(fe),
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_BIND", Message: msg}}
}

// messages maps a tag to a format taking the field name and the tag parameter.
var messages = map[string]string{
	"required":  "%s is required",
	"ticker":    "%s must be a ticker symbol",
	"timestamp": "%s must be an RFC3339 time, a date or unix seconds",
	"numeric":   "%s must be a number",
	"gt":        "%s must be greater than %s",
	"gte":       "%s must be greater than or equal to %s",
	"lt":        "%s must be less than %s",
	"lte":       "%s must be less than or equal to %s",
}

func fieldMessage(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be %s %s characters", field, bound, param)
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	}
	if format, ok := messages[fe.Tag()]; ok {
		if strings.Count(format, "%s") == 2 {
			return fmt.Sprintf(format, field, param)
		}
		return fmt.Sprintf(format, field)
	}
	return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "gt", "lt":
		return map[string]interface{}{"value": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return nil
}
