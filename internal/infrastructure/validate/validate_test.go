package validate

import (
	"math"
	"testing"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeFirstErrorWins(t *testing.T) {
	v := Compose(Required(), MaxLength(3))

	assert.EqualError(t, v("  "), "is required")
	assert.EqualError(t, v("abcd"), "must be no more than 3 characters")
	assert.NoError(t, v("héé"))
}

func TestOneOf(t *testing.T) {
	v := OneOf("a", "b")
	assert.NoError(t, v("a"))
	assert.Error(t, v("c"))
}

func TestNoControl(t *testing.T) {
	assert.NoError(t, NoControl()("line\nbreak\ttab"))
	assert.Error(t, NoControl()("bell\a"))
}

func TestNumbers(t *testing.T) {
	assert.NoError(t, Percent(0))
	assert.NoError(t, Percent(100))
	assert.Error(t, Percent(100.01))
	assert.Error(t, Percent(-1))
	assert.Error(t, Percent(math.NaN()))

	assert.NoError(t, NonNegativeFinite(4200))
	assert.Error(t, NonNegativeFinite(-0.5))
	assert.Error(t, NonNegativeFinite(math.Inf(1)))
}

type sampleRequest struct {
	Name  string `json:"name" validate:"required,max=5"`
	Pages int    `json:"totalPages" validate:"gte=0"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(sampleRequest{Name: "ok"}))

	err := Struct(sampleRequest{Name: "", Pages: 1})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
	assert.Equal(t, "is required", verr.Reason)

	err = Struct(sampleRequest{Name: "x", Pages: -1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "totalPages", verr.Field)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
