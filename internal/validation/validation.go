// Package validation decodes JSON request bodies and checks them against
// `validate` struct tags, reporting failures by JSON field name.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func validate() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Use JSON tag names in error messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		instance = v
	})
	return instance
}

// Error describes why a request body was rejected.
type Error struct {
	Field   string // JSON field name; empty for body-level problems
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrEmptyBody is returned by Decode when the request has no body.
var ErrEmptyBody = &Error{Message: "request body is required"}

// Decode reads a single JSON object from r.Body into dst and validates it.
// Unknown fields are ignored. The returned error is always an *Error,
// except when the body exceeded the configured size limit, in which case
// it wraps *http.MaxBytesError.
func Decode(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return ErrEmptyBody
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body too large: %w", err)
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		default:
			return &Error{Message: "invalid JSON body"}
		}
	}
	return Struct(dst)
}

// Struct validates v and converts the first failure into an *Error.
func Struct(v any) error {
	err := validate().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Message: err.Error()}
	}
	fe := verrs[0]
	return &Error{Field: fe.Field(), Message: formatFieldError(fe)}
}

func formatFieldError(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
