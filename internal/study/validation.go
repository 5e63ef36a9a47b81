package study

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/errors"
)

// LesionInput is one lesion mark submitted with a result.
type LesionInput struct {
	X          int                 `json:"x" validate:"gte=0"`
	Y          int                 `json:"y" validate:"gte=0"`
	Z          int                 `json:"z" validate:"gte=0"`
	Confidence entities.Confidence `json:"confidence" validate:"required,oneof=definite probable possible"`
}

// ResultPayload is the reader's judgement for one case.
type ResultPayload struct {
	PatientDecision *bool         `json:"patient_decision" validate:"required"`
	Lesions         []LesionInput `json:"lesions" validate:"dive"`
	TimeSpentSec    float64       `json:"time_spent_sec" validate:"gte=0"`
}

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

// validatePayload checks p against the limits frozen into session. Nothing
// is written before this passes.
func validatePayload(v *validator.Validate, session *entities.StudySession, p *ResultPayload) error {
	if p == nil {
		return validationError("result payload is required", nil)
	}
	if err := v.Struct(p); err != nil {
		return validationError(describeValidation(err), err)
	}
	if len(p.Lesions) > session.KMax {
		return validationError(fmt.Sprintf("too many lesions: max %d, got %d", session.KMax, len(p.Lesions)), nil)
	}
	if session.RequireLesionMarking && *p.PatientDecision && len(p.Lesions) == 0 {
		return validationError("a positive decision requires at least one lesion mark", nil)
	}
	return nil
}

// describeValidation flattens validator errors into one message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// drop the leading struct name, e.g. "ResultPayload.lesions[0].confidence"
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}

func validationError(msg string, cause error) error {
	b := errors.New(errors.NewStd(msg)).
		Component("study").
		Category(errors.CategoryValidation)
	if cause != nil {
		b = b.Context("cause", cause.Error())
	}
	return b.Build()
}
