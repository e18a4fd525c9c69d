package appointment

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is a single failed constraint on the intake form.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("specialty", func(fl validator.FieldLevel) bool {
		return IsSpecialty(fl.Field().String())
	})
	return v
}

var requiredMessages = map[string]string{
	"full_name":                  "Name is required",
	"birth_date":                 "Birth date is required",
	"document":                   "Document is required",
	"phone":                      "Phone is required",
	"email":                      "Invalid email address",
	"chief_complaint":            "Chief complaint is required",
	"specialty":                  "Specialty is required",
	"appointment_date":           "Appointment date is required",
	"appointment_time":           "Time is required",
	"emergency_contact_name":     "Emergency contact name is required",
	"emergency_contact_phone":    "Emergency contact phone is required",
	"emergency_contact_relation": "Relation is required",
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if msg, ok := requiredMessages[fe.Field()]; ok {
			return msg
		}
		return fe.Field() + " is required"
	case "email":
		return "Invalid email address"
	case "specialty":
		return "Select a valid specialty"
	case "oneof":
		return fe.Field() + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fe.Field() + " is invalid"
}

func toFieldErrors(err error) []FieldError {
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(ves))
	for _, fe := range ves {
		out = append(out, FieldError{Field: fe.Field(), Message: messageFor(fe)})
	}
	return out
}

// Validate checks in against the intake schema and returns one error per
// failing field, in form order. A nil result means the input is acceptable.
func Validate(in Input) []FieldError {
	return toFieldErrors(validate.Struct(in))
}

// inputRules maps json field names to the validate tag declared on Input.
var inputRules = func() map[string]string {
	rules := make(map[string]string)
	t := reflect.TypeOf(Input{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("validate")
		if tag == "" {
			continue
		}
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		rules[name] = tag
	}
	return rules
}()

// ValidatePatch applies the intake rules to the fields a patch provides.
// Absent fields are not checked.
func ValidatePatch(p Patch) []FieldError {
	var out []FieldError
	v := reflect.ValueOf(p)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fv := v.Field(i)
		if fv.IsNil() {
			continue
		}
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		rule, ok := inputRules[name]
		if !ok {
			continue
		}
		err := validate.Var(fv.Elem().Interface(), rule)
		if err == nil {
			continue
		}
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			out = append(out, FieldError{Field: name, Message: messageForVar(name, ves[0])})
		}
	}
	return out
}

// messageForVar builds the message for a standalone Var check, where the
// validator does not know the field name.
func messageForVar(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if msg, ok := requiredMessages[field]; ok {
			return msg
		}
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return messageFor(fe)
}
