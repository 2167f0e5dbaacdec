package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		maxSize int
		wantErr error
	}{
		{"empty", nil, 10, ErrMessageEmpty},
		{"at limit", make([]byte, 10), 10, nil},
		{"over limit", make([]byte, 11), 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateDatagram(t *testing.T) {
	assert.ErrorIs(t, ValidateDatagram(nil), ErrMessageEmpty)
	assert.NoError(t, ValidateDatagram(make([]byte, MaxDatagramSize)))
	assert.ErrorIs(t, ValidateDatagram(make([]byte, MaxDatagramSize+1)), ErrMessageTooLarge)
}

func TestValidateFragmentCount(t *testing.T) {
	assert.Error(t, ValidateFragmentCount(0))
	assert.Error(t, ValidateFragmentCount(-3))
	assert.NoError(t, ValidateFragmentCount(1))
	assert.NoError(t, ValidateFragmentCount(MaxFragmentCount))
	assert.ErrorIs(t, ValidateFragmentCount(MaxFragmentCount+1), ErrMessageTooLarge)
}

func TestValidateAssembledMessage(t *testing.T) {
	assert.ErrorIs(t, ValidateAssembledMessage([]byte{}), ErrMessageEmpty)
	assert.NoError(t, ValidateAssembledMessage([]byte{1, 2, 3}))
}
