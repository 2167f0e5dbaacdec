package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParity_GroupLayout(t *testing.T) {
	fragments := [][]byte{
		{1, 2, 3},
		{4, 5},
		{6},
		{7, 8, 9, 10},
		{11},
	}

	groups, err := BuildParity(fragments, 2)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, ParityGroup{Index: 0, Parity: []byte{1 ^ 4, 2 ^ 5, 3}, LengthParity: 3 ^ 2}, groups[0])
	assert.Equal(t, ParityGroup{Index: 1, Parity: []byte{6 ^ 7, 8, 9, 10}, LengthParity: 1 ^ 4}, groups[1])
	assert.Equal(t, ParityGroup{Index: 2, Parity: []byte{11}, LengthParity: 1}, groups[2])
}

func TestBuildParity_InvalidGroupSize(t *testing.T) {
	_, err := BuildParity([][]byte{{1}}, 0)
	assert.Error(t, err)
}

func TestRecoverFragment_RoundTrip(t *testing.T) {
	group := [][]byte{
		[]byte("first fragment"),
		[]byte("second"),
		[]byte("the third one is longest"),
		{},
	}

	parity, err := BuildParity(group, len(group))
	require.NoError(t, err)
	require.Len(t, parity, 1)

	for lost := range group {
		damaged := make([][]byte, len(group))
		copy(damaged, group)
		damaged[lost] = nil

		idx, fragment, err := RecoverFragment(damaged, parity[0].Parity, parity[0].LengthParity)
		require.NoError(t, err)
		assert.Equal(t, lost, idx)
		assert.Equal(t, group[lost], fragment)
	}
}

func TestRecoverFragment_Unrecoverable(t *testing.T) {
	group := [][]byte{{1, 2}, {3, 4}, {5, 6}}
	parity, err := BuildParity(group, 3)
	require.NoError(t, err)

	tests := []struct {
		name  string
		group [][]byte
	}{
		{"two missing", [][]byte{nil, nil, {5, 6}}},
		{"nothing missing", group},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := RecoverFragment(tt.group, parity[0].Parity, parity[0].LengthParity)
			assert.ErrorIs(t, err, ErrUnrecoverable)
		})
	}
}

func TestRecoverFragment_CorruptLengthParity(t *testing.T) {
	group := [][]byte{{1, 2}, nil}
	_, _, err := RecoverFragment(group, []byte{9, 9}, 0xFF)
	assert.ErrorIs(t, err, ErrUnrecoverable)
}
