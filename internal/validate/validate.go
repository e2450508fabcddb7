// Package validate checks variant definitions before they enter the variant
// store and converts them to and from the import format.
package validate

import (
	"fmt"
	"reflect"
	"strings"

	validatorV10 "github.com/go-playground/validator/v10"

	"github.com/dunamismax/variantforge/internal/domain"
)

var validator *validatorV10.Validate

func init() {
	validator = validatorV10.New()
	validator.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the structural shape of each variant. Every invalid variant
// contributes its first failing field.
func Validate(variants []domain.Variant) error {
	var errs domain.ValidationErrors
	for i := range variants {
		err := validator.Struct(variants[i])
		if err == nil {
			continue
		}
		fieldErrs, ok := err.(validatorV10.ValidationErrors)
		if !ok || len(fieldErrs) == 0 {
			errs = append(errs, &domain.ValidationError{Position: i + 1, Message: err.Error()})
			continue
		}
		fe := fieldErrs[0]
		errs = append(errs, &domain.ValidationError{
			Position: i + 1,
			Field:    fieldPath(fe),
			Message:  fmt.Sprintf("%s %s", fieldPath(fe), validationMessage(fe)),
		})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath drops the struct name from the namespace: "Variant.width.mode"
// becomes "width.mode".
func fieldPath(fe validatorV10.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func validationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}

// ValidateSemantics applies the business rules to every variant and reports
// the first violated rule of each invalid one.
func ValidateSemantics(variants []domain.Variant) error {
	var errs domain.ValidationErrors
	seen := make(map[string]struct{}, len(variants))
	for i, v := range variants {
		_, dup := seen[v.ID]
		seen[v.ID] = struct{}{}
		if err := checkVariant(v, dup); err != nil {
			err.Position = i + 1
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkVariant(v domain.Variant, duplicateID bool) *domain.ValidationError {
	fail := func(field, format string, args ...any) *domain.ValidationError {
		return &domain.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
	}

	switch {
	case duplicateID:
		return fail("id", "Variant id %q is used more than once.", v.ID)
	case strings.TrimSpace(v.Name) == "":
		return fail("name", "Name must not be empty.")
	case !v.Filter.Valid():
		return fail("filter", "Unknown resampling filter %q.", v.Filter)
	case v.Quality < 0 || v.Quality > 1:
		return fail("quality", "Quality must be between 0 and 1.")
	case v.SharpenAmount < domain.SharpenAmountMin || v.SharpenAmount > domain.SharpenAmountMax:
		return fail("sharpenAmount", "Sharpen amount must be between %g and %g.", domain.SharpenAmountMin, domain.SharpenAmountMax)
	case v.SharpenRadius < domain.SharpenRadiusMin || v.SharpenRadius > domain.SharpenRadiusMax:
		return fail("sharpenRadius", "Sharpen radius must be between %g and %g.", domain.SharpenRadiusMin, domain.SharpenRadiusMax)
	case v.SharpenThreshold < domain.SharpenThresholdMin || v.SharpenThreshold > domain.SharpenThresholdMax:
		return fail("sharpenThreshold", "Sharpen threshold must be between %g and %g.", domain.SharpenThresholdMin, domain.SharpenThresholdMax)
	case v.Width.Value != nil && *v.Width.Value < 0:
		return fail("width.value", "Width must not be negative.")
	case v.Height.Value != nil && *v.Height.Value < 0:
		return fail("height.value", "Height must not be negative.")
	}

	if v.AspectRatio.Enabled || v.AspectRatio.Value != "" {
		if _, err := domain.ParseAspectRatio(v.AspectRatio.Value); err != nil {
			return fail("aspectRatio.value", "Aspect ratio %q is not a valid W:H ratio.", v.AspectRatio.Value)
		}
	}
	if v.AspectRatio.Enabled {
		_, hasWidth := v.Width.Provided()
		_, hasHeight := v.Height.Provided()
		if !hasWidth || !hasHeight {
			return fail("aspectRatio", "Aspect ratio requires both width and height values.")
		}
		if v.Width.Mode != v.Height.Mode {
			return fail("aspectRatio", "Aspect ratio requires width and height to share the same mode.")
		}
	}
	return nil
}
