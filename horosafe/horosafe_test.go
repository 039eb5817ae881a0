package horosafe

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url  string
		want error
	}{
		{"http://127.0.0.1/", ErrSSRF},
		{"http://10.1.2.3/x", ErrSSRF},
		{"http://[::1]/", ErrSSRF},
		{"http://192.168.1.1", ErrSSRF},
		{"ftp://example.com", ErrUnsafeScheme},
		{"file:///etc/passwd", ErrUnsafeScheme},
		{"https://93.184.216.34/", nil},
	}
	for _, c := range cases {
		err := ValidateURL(c.url)
		if c.want == nil {
			assert.NoError(t, err, c.url)
			continue
		}
		assert.True(t, errors.Is(err, c.want), "%s: got %v", c.url, err)
	}
}

func TestCheckURL_NoHost(t *testing.T) {
	_, err := CheckURL("http:///path")
	require.Error(t, err)
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = LimitedReadAll(strings.NewReader("hello!"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestValidateSecret(t *testing.T) {
	assert.ErrorIs(t, ValidateSecret([]byte("short")), ErrSecretTooShort)
	assert.NoError(t, ValidateSecret([]byte(strings.Repeat("k", MinSecretLen))))
}
