package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMust(t *testing.T) {
	t.Run("should return the value when error is nil", func(t *testing.T) {
		assert.Equal(t, 42, Must(42, nil))
	})
	t.Run("should panic when error is not nil", func(t *testing.T) {
		assert.Panics(t, func() {
			Must(0, fmt.Errorf("test error"))
		})
	})
}

func TestToPtr(t *testing.T) {
	value := "hello"
	ptr := ToPtr(value)
	assert.Equal(t, value, *ptr)
}
