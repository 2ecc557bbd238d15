// Package validation holds the shared struct validator and maps its failures onto perr.
package validation

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	perr "example.com/territory/internal/errors"
)

var (
	once       sync.Once
	validate   *validator.Validate
	translator ut.Translator
)

func instance() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		enLoc := en.New()
		trans, _ := ut.New(enLoc, enLoc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("instant", isInstant)
		_ = v.RegisterTranslation("instant", trans,
			func(ut ut.Translator) error {
				return ut.Add("instant", "{0} must be an RFC 3339 timestamp", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("instant", fe.Field())
				return msg
			},
		)
		_ = v.RegisterTranslation("min", trans,
			func(ut ut.Translator) error {
				return ut.Add("min", "{0} must be at least {1}", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("min", fe.Field(), fe.Param())
				return msg
			},
		)

		validate, translator = v, trans
	})
	return validate, translator
}

// isInstant accepts strings parseable by ParseInstant.
func isInstant(fl validator.FieldLevel) bool {
	_, err := ParseInstant(fl.Field().String())
	return err == nil
}

// ParseInstant parses an RFC 3339 timestamp, with or without fractional seconds.
func ParseInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

// Struct validates v and returns the first failure as a perr validation error carrying the field.
func Struct(v any) error {
	val, trans := instance()
	err := val.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return perr.Wrap(err, perr.ErrorCodeValidation, "validation error")
	}
	fe := verrs[0]
	return perr.Validationf(fe.Field(), "%s", fe.Translate(trans))
}
