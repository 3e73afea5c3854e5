package intake

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"storybook/internal/domain"
)

// Request carries the child profile fields of a new story.
type Request struct {
	ChildName   string `json:"child_name" validate:"required,max=40"`
	Age         int    `json:"age" validate:"required,min=3,max=12"`
	Gender      string `json:"gender" validate:"required,oneof=girl boy other"`
	Genre       string `json:"genre" validate:"required,max=60"`
	Description string `json:"description" validate:"max=500"`
	Language    string `json:"language" validate:"omitempty,max=35"`
}

func (r Request) normalized() Request {
	r.ChildName = strings.Join(strings.Fields(r.ChildName), " ")
	r.Gender = strings.ToLower(strings.TrimSpace(r.Gender))
	r.Genre = strings.TrimSpace(r.Genre)
	r.Description = strings.TrimSpace(r.Description)
	r.Language = strings.TrimSpace(r.Language)
	return r
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Validate reports the first failing field as a *domain.ValidationError.
func (v *requestValidator) Validate(req Request) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &domain.ValidationError{Field: "request", Message: err.Error()}
	}
	fe := verrs[0]
	return &domain.ValidationError{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
