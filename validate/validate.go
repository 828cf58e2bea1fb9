package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/barterlabs/go-barter/service/persist"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var tenantNameRegex = regexp.MustCompile(`^[\w .-]*$`)

// SanitizationPolicy is a policy for sanitizing caller-supplied input
var SanitizationPolicy = bluemonday.UGCPolicy()

func RegisterCustomValidators(v *validator.Validate) {
	v.RegisterValidation("tenant_name", TenantNameValidator)
	v.RegisterValidation("currency", CurrencyValidator)
	v.RegisterValidation("max_string_length", MaxStringLengthValidator)
	v.RegisterAlias("collection_name", "max_string_length=200")

	v.RegisterStructValidation(WebhookConfigValidator, persist.WebhookConfig{})
}

// Sanitize strips markup from a caller-supplied string.
func Sanitize(s string) string {
	return SanitizationPolicy.Sanitize(s)
}

// WebhookConfigValidator checks that an enabled webhook carries everything
// delivery needs.
func WebhookConfigValidator(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(persist.WebhookConfig)

	if !cfg.Enabled {
		return
	}

	if cfg.URL == "" {
		sl.ReportError(cfg.URL, "URL", "URL", "required_with", "enabled")
	}
	if cfg.Secret == "" {
		sl.ReportError(cfg.Secret, "Secret", "Secret", "required_with", "enabled")
	}
}

// TenantNameValidator ensures tenant display names are printable and bounded
var TenantNameValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	return len(s) >= 2 && len(s) <= 100 && tenantNameRegex.MatchString(s)
}

// CurrencyValidator accepts empty or a three-letter currency code
var CurrencyValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	return len(s) == 3 && s == strings.ToUpper(s)
}

// MaxStringLengthValidator validates strings with a given maximum length
var MaxStringLengthValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()

	maxLength, err := strconv.Atoi(fl.Param())
	if err != nil {
		panic(fmt.Errorf("error parsing MaxStringLengthValidator parameter: %s", err))
	}

	return len(s) <= maxLength
}
