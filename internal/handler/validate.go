package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

var phonePattern = regexp.MustCompile(`^\+?[0-9\s\-().]{6,20}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Out of range decimals become NaN so converting them stays cheap. The
	// "price" rule rejects them before any comparison runs.
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		d, ok := f.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		if !product.PriceInRange(d) {
			return math.NaN()
		}
		return d.InexactFloat64()
	}, decimal.Decimal{})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("price", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Float64 && !math.IsNaN(fl.Field().Float())
	})
	return v
}

// decodeBody reads a JSON object into dst. An empty body is allowed only when
// allowEmpty is set, in which case dst is left untouched.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	if len(body) > maxBodyBytes {
		return errors.Wrap(errMalformedBody, "body too large")
	}
	if strings.TrimSpace(string(body)) == "" {
		if allowEmpty {
			return nil
		}
		return errors.Wrap(errMalformedBody, "empty body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	return nil
}

// check runs struct validation and converts failures to a ValidationError.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validate")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = validationMessage(fe)
	}
	return &ValidationError{Details: details}
}

func validationMessage(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit)
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "phone":
		return "must be a valid phone number"
	case "price":
		return "is out of range"
	case "eq":
		if fe.Kind() == reflect.Bool {
			return "must be accepted"
		}
		return fmt.Sprintf("must equal %s", fe.Param())
	}
	return "is invalid"
}

// trimStrings trims every exported string field of the struct pointed to by
// v, following nested structs and string pointers.
func trimStrings(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	trimValue(rv.Elem())
}

func trimValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			trimValue(v.Elem())
		}
	case reflect.Struct:
		for i := range v.NumField() {
			if v.Type().Field(i).IsExported() {
				trimValue(v.Field(i))
			}
		}
	default:
	}
}
