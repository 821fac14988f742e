// Package validation collects field violations as snake_case codes that the
// front end (or i18n.T) turns into messages.
package validation

import (
	"errors"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records code for field unless the field already has a violation.
func (v Violations) Add(field, code string) {
	if _, exists := v[field]; !exists {
		v[field] = code
	}
}

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func PositiveFloat(field string, val float64, v Violations) {
	if val <= 0 {
		v.Add(field, "must_be_positive")
	}
}

func RangeFloat(field string, val, minVal, maxVal float64, v Violations) {
	if val < minVal || val > maxVal {
		v.Add(field, "out_of_range")
	}
}

func RangeInt(field string, val, minVal, maxVal int, v Violations) {
	if val < minVal || val > maxVal {
		v.Add(field, "out_of_range")
	}
}

// Length checks the rune count of a non-empty value.
func Length(field, value string, minLen, maxLen int, v Violations) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case n < minLen:
		v.Add(field, "too_short")
	case maxLen > 0 && n > maxLen:
		v.Add(field, "too_long")
	}
}

func Email(field, value string, v Violations) {
	value = strings.TrimSpace(value)
	if value == "" {
		v.Add(field, "required")
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value || !strings.Contains(value[strings.LastIndex(value, "@"):], ".") {
		v.Add(field, "invalid_email")
	}
}

// URL accepts empty values; non-empty ones must be absolute http(s) URLs.
func URL(field, value string, v Violations) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.Add(field, "invalid_url")
	}
}

var phoneRe = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// Phone accepts empty values and tolerates spaces, dots and dashes.
func Phone(field, value string, v Violations) {
	if value == "" {
		return
	}
	cleaned := strings.NewReplacer(" ", "", ".", "", "-", "").Replace(value)
	if !phoneRe.MatchString(cleaned) {
		v.Add(field, "invalid_phone")
	}
}

var timeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// TimeOfDay checks a "HH:MM" value.
func TimeOfDay(field, value string, v Violations) {
	if !timeRe.MatchString(value) {
		v.Add(field, "invalid_time")
	}
}

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func Slug(field, value string, v Violations) {
	if !slugRe.MatchString(value) {
		v.Add(field, "invalid_slug")
	}
}

// OneOf checks value against an allowed set.
func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "unknown_value")
}

// laPosteSIREN is exempt from the Luhn rule; its establishments use a
// digit sum multiple of 5 instead.
const laPosteSIREN = "356000000"

// ValidSIRET reports whether s is a well-formed French SIRET.
func ValidSIRET(s string) bool {
	if len(s) != 14 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	if strings.HasPrefix(s, laPosteSIREN) {
		sum := 0
		for _, r := range s {
			sum += int(r - '0')
		}
		return sum%5 == 0
	}
	return luhn(s)
}

func luhn(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// NormalizeSIRET strips the spaces users type between digit groups.
func NormalizeSIRET(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}

func SIRET(field, value string, v Violations) {
	if value == "" {
		v.Add(field, "required")
		return
	}
	if !ValidSIRET(value) {
		v.Add(field, "invalid_siret")
	}
}

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

func structValidatorInstance() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
		structValidator.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return structValidator
}

// Struct runs `validate` struct tags and folds failures into v using the
// json field names. Tags map to the same codes as the helpers above.
func Struct(s any, v Violations) error {
	err := structValidatorInstance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		v.Add(fe.Field(), codeForTag(fe.Tag()))
	}
	return nil
}

func codeForTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "invalid_email"
	case "url", "http_url":
		return "invalid_url"
	case "min":
		return "too_short"
	case "max":
		return "too_long"
	case "oneof":
		return "unknown_value"
	case "gt", "gte", "lt", "lte":
		return "out_of_range"
	default:
		return "invalid"
	}
}
