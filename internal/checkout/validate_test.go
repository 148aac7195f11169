package checkout

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

func testValidator() *Validator {
	v := NewValidator(config.DefaultValidationConfig())
	v.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return v
}

func TestValidName(t *testing.T) {
	for _, ok := range []string{"Anna", "Jean-Luc", "O'Brien", "Zoë", "Ana María", " Élodie "} {
		assert.True(t, ValidName(ok), ok)
	}
	for _, bad := range []string{"", "   ", "R2D2", "Anna!", "李", "<script>", strings.Repeat("a", 61)} {
		assert.False(t, ValidName(bad), bad)
	}
}

func TestValidDOB(t *testing.T) {
	v := testValidator()
	assert.True(t, v.ValidDOB("2010-01-01"), "about 16 years old")
	assert.False(t, v.ValidDOB("2021-01-01"), "about 5 years old")
	assert.False(t, v.ValidDOB("2000-01-01"), "26 years old")
	assert.False(t, v.ValidDOB("2010-1-1"))
	assert.False(t, v.ValidDOB("2010-02-30"))
	assert.False(t, v.ValidDOB("01.01.2010"))
	assert.False(t, v.ValidDOB("2027-01-01"))
	assert.False(t, v.ValidDOB(""))
}

func TestValidator_CartOrder(t *testing.T) {
	v := testValidator()
	line := model.CartLine{Variants: model.VariantRef{FullPriceID: "p"}, ChildFirst: "Anna", ChildLast: "Meier", ChildDOB: "2015-05-05"}

	err := v.Cart(model.Cart{Email: "a@example.com"})
	assert.Equal(t, CodeEmptyCart, err.(*ValidationError).Code)

	err = v.Cart(model.Cart{Email: "nope", Lines: []model.CartLine{line}})
	assert.Equal(t, CodeInvalidEmail, err.(*ValidationError).Code)

	badDOB := line
	badDOB.ChildDOB = "2021-01-01"
	badName := line
	badName.ChildLast = "M3ier"
	err = v.Cart(model.Cart{Email: "a@example.com", Lines: []model.CartLine{badDOB, badName}})
	if assert.IsType(t, &ValidationError{}, err) {
		assert.Equal(t, CodeInvalidName, err.(*ValidationError).Code, "names are checked before dates of birth")
		assert.Equal(t, 1, err.(*ValidationError).Line)
	}

	noPrice := line
	noPrice.Variants.FullPriceID = " "
	err = v.Cart(model.Cart{Email: "a@example.com", Lines: []model.CartLine{noPrice}})
	assert.Equal(t, CodeInvalidItem, err.(*ValidationError).Code)

	assert.NoError(t, v.Cart(model.Cart{Email: "a@example.com", Lines: []model.CartLine{line}}))
}
