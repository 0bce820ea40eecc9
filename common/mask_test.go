package common

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputMask(t *testing.T) {
	t.Run("Test Display And Code", func(t *testing.T) {
		m := ParseInputMask(`0;"Off";-1;"On"`)
		assert.Equal(t, []string{"Off", "On"}, m.Displays())
		assert.Equal(t, "On", m.Display("-1"))
		assert.Equal(t, "7", m.Display("7"))
		code, err := m.Code("Off")
		require.NoError(t, err)
		assert.Equal(t, "0", code)
		_, err = m.Code("Maybe")
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("Test Quoted Codes", func(t *testing.T) {
		m := ParseInputMask(`"0";"Off";"1";"On"`)
		assert.Equal(t, []string{"Off", "On"}, m.Displays())
		code, err := m.Code("On")
		require.NoError(t, err)
		assert.Equal(t, `"1"`, code)
		assert.Equal(t, "On", m.Display(`"1"`))
	})

	t.Run("Test Empty", func(t *testing.T) {
		m := ParseInputMask("")
		assert.True(t, m.Empty())
		code, err := m.Code("x")
		require.NoError(t, err)
		assert.Equal(t, "x", code)
		assert.True(t, ParseInputMask(`0`).Empty())
	})
}
