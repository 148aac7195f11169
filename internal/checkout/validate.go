package checkout

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

var nameRe = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ '-]{1,60}$`)

const daysPerYear = 365.25

// Validator checks buyer-supplied identity fields.
type Validator struct {
	cfg config.ValidationConfig
	now func() time.Time
}

// NewValidator returns a Validator using the wall clock.
func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{cfg: cfg, now: time.Now}
}

// Cart validates the email and every line's child, in cart order.  Names
// are checked for all lines before any date of birth.
func (v *Validator) Cart(cart model.Cart) error {
	if len(cart.Lines) == 0 {
		return invalid(CodeEmptyCart, -1, "cart is empty")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(cart.Email)); err != nil {
		return invalid(CodeInvalidEmail, -1, "email %q is not valid", cart.Email)
	}
	for i, l := range cart.Lines {
		if !ValidName(l.ChildFirst) || !ValidName(l.ChildLast) {
			return invalid(CodeInvalidName, i, "child names may contain letters, spaces, hyphens and apostrophes only")
		}
	}
	for i, l := range cart.Lines {
		if !v.ValidDOB(l.ChildDOB) {
			return invalid(CodeInvalidDOB, i, "date of birth %q is not allowed", l.ChildDOB)
		}
	}
	for i, l := range cart.Lines {
		if strings.TrimSpace(l.Variants.FullPriceID) == "" {
			return invalid(CodeInvalidItem, i, "missing price")
		}
	}
	return nil
}

// ValidName reports whether the trimmed name is 1-60 letters, spaces,
// hyphens or apostrophes.
func ValidName(s string) bool {
	return nameRe.MatchString(strings.TrimSpace(s))
}

// ValidDOB reports whether dob is a YYYY-MM-DD date with a year between 1900
// and the current year whose age lies within the configured range.  Age is
// (now - dob) / 365.25 days, not a calendar difference.
func (v *Validator) ValidDOB(dob string) bool {
	if len(dob) != len("2006-01-02") {
		return false
	}
	d, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return false
	}
	now := v.now().UTC()
	if d.Year() < 1900 || d.Year() > now.Year() {
		return false
	}
	age := now.Sub(d).Hours() / 24 / daysPerYear
	return age >= v.cfg.MinAge && age <= v.cfg.MaxAge
}
