package services

import (
	"regexp"
	"strings"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
)

// Field keys used in session error maps.
const (
	FieldName    = "name"
	FieldPhone   = "phone"
	FieldEmail   = "email"
	FieldStreet  = "street"
	FieldCity    = "city"
	FieldState   = "state"
	FieldCountry = "country"
	FieldZipcode = "zipcode"
	FieldTerms   = "terms"
)

// Validation messages surfaced to the customer.
const (
	msgName    = "Please enter your full name"
	msgPhone   = "Please enter a valid phone number"
	msgEmail   = "Please enter a valid email address"
	msgStreet  = "Please enter a complete street address"
	msgCity    = "Please enter your city"
	msgState   = "Please enter your state"
	msgCountry = "Please enter your country"
	msgZipcode = "Please enter a numeric zip code"
	msgTerms   = "Please accept the terms and conditions"
)

var (
	// Digits with optional leading + and optional separators; matched
	// against the whitespace-normalized value only.
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9().-]{5,19}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// StepValidation is the complete validation outcome for one step. Errors
// holds every failing field, not just the first.
type StepValidation struct {
	Valid  bool
	Errors map[string]string
}

// ValidateStep checks the session's data against the rules of the given
// step. The summary step has no gate; the address step validates the contact
// and address fields; the payment step requires the terms agreement.
func ValidateStep(step domain.Step, session domain.CheckoutSession) StepValidation {
	errs := make(map[string]string)

	switch step {
	case domain.StepSummary:
		// no gate
	case domain.StepAddress:
		validateAddressFields(session, errs)
	case domain.StepPayment:
		if !session.Agreement {
			errs[FieldTerms] = msgTerms
		}
	}

	return StepValidation{Valid: len(errs) == 0, Errors: errs}
}

func validateAddressFields(session domain.CheckoutSession, errs map[string]string) {
	if len(strings.TrimSpace(session.Contact.Name)) < 2 {
		errs[FieldName] = msgName
	}
	if !phonePattern.MatchString(domain.NormalizePhone(session.Contact.Phone)) {
		errs[FieldPhone] = msgPhone
	}
	if !emailPattern.MatchString(strings.TrimSpace(session.Contact.Email)) {
		errs[FieldEmail] = msgEmail
	}
	if len(strings.TrimSpace(session.Address.Street)) < 5 {
		errs[FieldStreet] = msgStreet
	}
	if len(strings.TrimSpace(session.Address.City)) < 2 {
		errs[FieldCity] = msgCity
	}
	if len(strings.TrimSpace(session.Address.State)) < 2 {
		errs[FieldState] = msgState
	}
	if len(strings.TrimSpace(session.Address.Country)) < 2 {
		errs[FieldCountry] = msgCountry
	}
}
