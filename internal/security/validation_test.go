package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidHostmask(t *testing.T) {
	valid := []string{
		"*!*@bad.example.com",
		"nick!user@host",
		"a!b@c",
		"*!*@*",
		"someone!~ident@198.51.100.7",
	}
	for _, m := range valid {
		assert.True(t, ValidHostmask(m), "expected valid: %q", m)
	}

	invalid := []string{
		"",
		"plain-nick",
		"$a:account",
		"~q:nick!user@host",
		"!user@host",
		"nick!@host",
		"nick!user@",
		"nick!us er@host",
		"nick!user@host,evil",
		"a!b!c@d",
		"a!b@c@d",
	}
	for _, m := range invalid {
		assert.False(t, ValidHostmask(m), "expected invalid: %q", m)
	}
}

func TestValidChannelName(t *testing.T) {
	assert.True(t, ValidChannelName("#chan"))
	assert.True(t, ValidChannelName("&local"))
	assert.True(t, ValidChannelName("+modeless"))
	assert.False(t, ValidChannelName("#"))
	assert.False(t, ValidChannelName("chan"))
	assert.False(t, ValidChannelName("#with space"))
	assert.False(t, ValidChannelName("#a,b"))
	assert.False(t, ValidChannelName("#bell\x07"))
}

func TestStripControlCodes(t *testing.T) {
	assert.Equal(t, "red text", StripControlCodes("\x0304red\x03 text"))
	assert.Equal(t, "fg and bg", StripControlCodes("\x0304,07fg and bg"))
	assert.Equal(t, "bold plain", StripControlCodes("\x02bold\x0f plain"))
	assert.Equal(t, "unchanged", StripControlCodes("unchanged"))
	assert.Equal(t, "5,000", StripControlCodes("5,000"))
}
