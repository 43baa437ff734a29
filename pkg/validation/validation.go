package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

var (
	transOnce sync.Once
	trans     ut.Translator
)

func translator() ut.Translator {
	transOnce.Do(func() {
		locale := en.New()
		uni := ut.New(locale, locale)
		trans, _ = uni.GetTranslator("en")
	})
	return trans
}

// New returns a validator reporting JSON field names with English messages.
func New() *validator.Validate {
	v := validator.New()
	Configure(v)
	return v
}

// Configure installs JSON tag naming and English translations on an existing validator.
func Configure(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = enTranslations.RegisterDefaultTranslations(v, translator())
}

// Translate maps validation failures to field messages. Other errors land under "detail".
func Translate(err error) map[string]string {
	fields := make(map[string]string)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(translator())
		}
		return fields
	}
	if err != nil {
		fields["detail"] = err.Error()
	}
	return fields
}

// Error converts err into a validation app error carrying translated field details.
func Error(err error, message string) *appErrors.Error {
	appErr := appErrors.WithDetails(appErrors.ErrValidation, message, Translate(err))
	appErr.Err = err
	return appErr
}
