package qrelay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(CategoryAuth, base)

	assert.ErrorIs(t, wrapped, base)
	cat, ok := CategoryOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CategoryAuth, cat)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(CategoryAuth, nil))
}

func TestCategoryOfUnwrappedErrorIsNotOK(t *testing.T) {
	_, ok := CategoryOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestCategoryStrings(t *testing.T) {
	tests := []struct {
		cat  Category
		want string
	}{
		{CategoryProtocol, "protocol"},
		{CategoryAuth, "auth"},
		{CategoryPersistence, "persistence"},
		{CategoryTransport, "transport"},
		{CategoryInvariant, "invariant"},
		{Category(99), "unknown"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.cat.String())
	}
}
