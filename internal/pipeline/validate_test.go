package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want string
	}{
		{"https://v.douyin.com/iRNBho6u/", true, "https://v.douyin.com/iRNBho6u/"},
		{"  http://www.douyin.com/video/7301  ", true, "http://www.douyin.com/video/7301"},
		{"https://www.iesdouyin.com/share/video/7301/", true, "https://www.iesdouyin.com/share/video/7301/"},
		{"https://www.tiktok.com/@u/video/1", true, "https://www.tiktok.com/@u/video/1"},
		{"https://www.douyin.com/user/abc", false, ""},
		{"ftp://v.douyin.com/x", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		got, err := ValidateURL(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			assert.True(t, IsValidation(err), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateBatch(t *testing.T) {
	got, err := ValidateBatch([]string{" https://v.douyin.com/a/ ", "", "   ", "https://www.tiktok.com/x"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://v.douyin.com/a/", "https://www.tiktok.com/x"}, got)

	_, err = ValidateBatch([]string{"", " "}, 0)
	assert.EqualError(t, err, "batch contains no urls")

	_, err = ValidateBatch([]string{"https://v.douyin.com/a/", "https://v.douyin.com/b/"}, 1)
	assert.EqualError(t, err, "batch too large (max 1)")

	_, err = ValidateBatch([]string{"a", "b", "c", "d", "https://v.douyin.com/a/"}, 0)
	assert.EqualError(t, err, "unsupported urls: a, b, c")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Invalid, 4)
}
