package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field names reported in ValidationError.
const (
	FieldHostname          = "hostname"
	FieldInstallationID    = "installation_id"
	FieldExtendedProductID = "extended_product_id"
)

var (
	labelRegex             = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
	installationIDRegex    = regexp.MustCompile(`^\d{63}$`)
	extendedProductIDRegex = regexp.MustCompile(`^\d{5}-\d{5}-\d{3}-\d{6}-\d{2}-\d{4}-\d+\.\d{4}-\d{7}$`)
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	mustRegister(validate, "activation_hostname", validateHostname)
	mustRegister(validate, "installation_id", validateInstallationID)
	mustRegister(validate, "extended_product_id", validateExtendedProductID)
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidationError reports the first identifier that failed its format check.
type ValidationError struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("the format of the %s (%q) is invalid", strings.ReplaceAll(e.Field, "_", " "), e.Value)
}

// Identifiers checks hostname, installation ID and extended product ID in that
// order and stops at the first failure.
func Identifiers(hostname, installationID, extendedProductID string) error {
	if err := check(FieldHostname, hostname, "activation_hostname"); err != nil {
		return err
	}
	if err := check(FieldInstallationID, installationID, "installation_id"); err != nil {
		return err
	}
	return ExtendedProductID(extendedProductID)
}

func ExtendedProductID(extendedProductID string) error {
	return check(FieldExtendedProductID, extendedProductID, "extended_product_id")
}

func check(field, value, tag string) error {
	if err := validate.Var(value, "required,"+tag); err != nil {
		return &ValidationError{Field: field, Value: value}
	}
	return nil
}

// validateHostname accepts RFC 1035 style names: dot separated labels of 1-63
// letters, digits or hyphens that neither start nor end with a hyphen, at most
// 253 characters overall, with an optional trailing dot.
func validateHostname(fl validator.FieldLevel) bool {
	hostname := fl.Field().String()
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(strings.TrimSuffix(hostname, "."), ".") {
		if !labelRegex.MatchString(label) {
			return false
		}
	}
	return true
}

func validateInstallationID(fl validator.FieldLevel) bool {
	return installationIDRegex.MatchString(fl.Field().String())
}

func validateExtendedProductID(fl validator.FieldLevel) bool {
	return extendedProductIDRegex.MatchString(fl.Field().String())
}
