package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList(t *testing.T) {
	empty, err := NewAllowList(nil)
	require.NoError(t, err)
	assert.True(t, empty.Allowed("anything.example"))

	var nilList *AllowList
	assert.True(t, nilList.Allowed("anything.example"))

	list, err := NewAllowList([]string{" *.Example.com ", "vercel.app", "", "{a,b}.test"})
	require.NoError(t, err)

	tests := map[string]bool{
		"www.example.com": true,
		"WWW.EXAMPLE.COM": true,
		"example.com":     false,
		"vercel.app":      true,
		"lofi.vercel.app": false,
		"a.test":          true,
		"c.test":          false,
	}
	for host, want := range tests {
		assert.Equal(t, want, list.Allowed(host), host)
		if want {
			assert.NoError(t, list.Check(host), host)
		} else {
			assert.ErrorIs(t, list.Check(host), ErrHostNotAllowed, host)
		}
	}

	_, err = NewAllowList([]string{"[unclosed"})
	assert.Error(t, err)
}
