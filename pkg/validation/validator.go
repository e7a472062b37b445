package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	// MaxSemanticLength bounds identifiers accepted in queries.
	MaxSemanticLength = 128
	// MaxBatchSize bounds the number of elements a single query may touch.
	MaxBatchSize = 1000

	semanticPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("semantic", func(fl validator.FieldLevel) bool {
		return ValidateSemantic(fl.Field().String()) == nil
	})
}

// Struct validates a query struct against its validate tags and returns
// the first failure in a readable form.
func Struct(query any) error {
	if query == nil {
		return errors.New("query cannot be nil")
	}
	if err := validate.Struct(query); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateSemantic checks a node identifier.
func ValidateSemantic(semantic string) error {
	if semantic == "" {
		return errors.New("semantic cannot be empty")
	}
	if len(semantic) > MaxSemanticLength {
		return fmt.Errorf("semantic '%s' exceeds maximum length of %d characters", semantic, MaxSemanticLength)
	}
	if !semanticPattern.MatchString(semantic) {
		return fmt.Errorf("semantic '%s' contains invalid characters", semantic)
	}
	return nil
}

// ValidateBatchSize validates the number of elements in a batch query.
func ValidateBatchSize(size int) error {
	if size < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", size)
	}
	if size > MaxBatchSize {
		return fmt.Errorf("batch size must not exceed %d, got %d", MaxBatchSize, size)
	}
	return nil
}

// ValidateDistinct rejects a list naming the same semantic twice.
func ValidateDistinct(field string, semantics []string) error {
	seen := make(map[string]struct{}, len(semantics))
	for _, s := range semantics {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%s: duplicate semantic '%s'", field, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "gt", "gte":
			return fmt.Errorf("%s: must be greater than %s", field, param)
		case "nefield":
			return fmt.Errorf("%s: must differ from %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "semantic":
			return fmt.Errorf("%s: invalid semantic %q", field, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
