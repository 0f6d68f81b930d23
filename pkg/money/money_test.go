package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.30", Format(0.1+0.2, ""))
	assert.Equal(t, "39.98 EUR", Format(2*19.99, "EUR"))
	assert.Equal(t, "1.01", Format(1.005, ""))
	assert.Equal(t, "0.00", Format(0, ""))
}
