package api

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/readerstudy/internal/errors"
)

// newValidator returns a validator reporting JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the request body into dst and validates it. Malformed bodies
// are reported as 400, failed constraints as 422. A non-nil return means the
// response has already been written.
func (c *Controller) bind(ctx echo.Context, dst any) (bool, error) {
	if err := ctx.Bind(dst); err != nil {
		return false, c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := c.validate.Struct(dst); err != nil {
		verr := errors.Newf("%s", describeValidation(err)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
		return false, c.HandleError(ctx, verr, "Request validation failed", http.StatusUnprocessableEntity)
	}
	return true, nil
}

// describeValidation renders validator errors as "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, field+": "+rule)
	}
	return strings.Join(parts, "; ")
}
