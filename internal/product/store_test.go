package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		valid    bool
	}{
		{"myproduct", true},
		{"my-product_2", true},
		{"Default", true},
		{"", false},
		{"my product", false},
		{"my/product", false},
		{"product?x=1", false},
		{"café", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			err := ValidateEndpoint(tt.endpoint)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEndpoint)
			}
		})
	}
}

func TestProductRetired(t *testing.T) {
	p := &Product{}
	assert.False(t, p.Retired())
}
