package integrity

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		algo Algorithm
		want string
	}{
		{MD5, "5d41402abc4b2a76b9719d911017c592"},
		{"", "5d41402abc4b2a76b9719d911017c592"},
		{SHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
	}
	for _, tc := range tests {
		t.Run(string(tc.algo), func(t *testing.T) {
			got, err := Bytes(tc.algo, []byte("hello"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBytes_UnknownAlgorithm(t *testing.T) {
	_, err := Bytes("crc32", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
	assert.False(t, Algorithm("crc32").Valid())
}

func TestFileAndVerify(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/data/diet.ttl", []byte("hello"), 0644))

	sum, size, err := File(fs, MD5, "/data/diet.ttl")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	ok, err := Verify(fs, MD5, "/data/diet.ttl", sum)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, util.WriteFile(fs, "/data/diet.ttl", []byte("hellO"), 0644))
	ok, err = Verify(fs, MD5, "/data/diet.ttl", sum)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = File(fs, MD5, "/missing.ttl")
	assert.Error(t, err)
}
