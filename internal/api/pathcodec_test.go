package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePathRoundTrips(t *testing.T) {
	path := "/home/user/projects/my-repo"
	token := encodePath(path)
	assert.NotContains(t, token, "/")
	decoded, err := decodePath(token)
	require.NoError(t, err)
	assert.Equal(t, path, decoded)
}

func TestDecodePathRejectsInvalidToken(t *testing.T) {
	_, err := decodePath("not base64 url safe!!")
	require.Error(t, err)
}
