package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// ErrValidation is wrapped by every error returned from Validate.
var ErrValidation = errors.New("validation failed")

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// report fields by their json names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterStructValidation(validateScore, Score{})
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists the invalid fields of a record.
type ValidationError struct {
	Record string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Record, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validate checks a record against its validation tags.
func Validate(record any) error {
	err := validate.Struct(record)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out := &ValidationError{Record: recordName(record)}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: fe.Translate(translator)})
	}
	return out
}

// ValidateValue validates every record of a category value.
func ValidateValue(c Category, v any) error {
	switch items := v.(type) {
	case Settings:
		return Validate(items)
	case map[string]string:
		return nil
	default:
		rv := reflect.ValueOf(items)
		if rv.Kind() != reflect.Slice {
			return fmt.Errorf("%w: unexpected %s value %T", ErrValidation, c, v)
		}
		for i := 0; i < rv.Len(); i++ {
			if err := Validate(rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("%s[%d]: %w", c, i, err)
			}
		}
	}
	return nil
}

func validateScore(sl validator.StructLevel) {
	s := sl.Current().Interface().(Score)
	if s.ID != "" && s.StudentID != 0 && s.SubjectID != 0 && s.ID != ScoreID(s.StudentID, s.SubjectID) {
		sl.ReportError(s.ID, "id", "ID", "scoreid", "")
	}
	for assessment, entries := range s.AssessmentScores {
		if err := ValidateScoreEntries(entries); err != nil {
			sl.ReportError(entries, "assessmentScores["+assessment+"]", "AssessmentScores", "score", "")
		}
	}
}

func recordName(record any) string {
	t := reflect.TypeOf(record)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.ToLower(t.Name())
}
