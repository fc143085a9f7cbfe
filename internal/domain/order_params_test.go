package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderParams_Defaults(t *testing.T) {
	p, err := NewOrderParams()
	require.NoError(t, err)
	assert.Equal(t, Qty(0), p.DisplaySize())
	assert.True(t, p.GoodTillTime().IsZero())
	assert.Equal(t, time.Duration(0), p.GoodInSeconds())
}

func TestNewOrderParams_TimeQualifiersAreExclusive(t *testing.T) {
	_, err := NewOrderParams(
		WithGoodTillTime(time.Date(2015, 3, 4, 16, 0, 0, 0, time.UTC)),
		WithGoodInSeconds(30*time.Second),
	)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNewOrderParams_EitherQualifierAlone(t *testing.T) {
	p, err := NewOrderParams(WithGoodTillTime(time.Date(2015, 3, 4, 16, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.False(t, p.GoodTillTime().IsZero())

	p, err = NewOrderParams(WithGoodInSeconds(45 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, p.GoodInSeconds())
}

func TestOrderParams_DisplaySizeValidation(t *testing.T) {
	p, err := NewOrderParams(WithDisplaySize(500))
	require.NoError(t, err)

	assert.NoError(t, p.ValidateFor(1000))
	assert.NoError(t, p.ValidateFor(500))

	err = p.ValidateFor(100)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestOrderParams_NilValidates(t *testing.T) {
	var p *OrderParams
	assert.NoError(t, p.ValidateFor(100))
}
