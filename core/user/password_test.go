package user

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	hash, err := hashPassword("s3cret-pass")
	require.NoError(t, err)

	ph, err := parseHash(hash)
	require.NoError(t, err)
	assert.Equal(t, hashVersion, ph.version)
	assert.Equal(t, currentParams, ph.params)
	assert.Len(t, ph.salt, saltLen)
	assert.Len(t, ph.key, keyLen)

	other, err := hashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts are random")

	assert.NoError(t, verifyPassword(hash, "s3cret-pass"))
	assert.Equal(t, ErrPasswordMismatch, verifyPassword(hash, "s3cret-pasS"))
	assert.False(t, needsRehash(hash))
}

func TestVerifyPassword_legacyBcrypt(t *testing.T) {
	raw, err := bcrypt.GenerateFromPassword([]byte("legacy-pass1"), bcrypt.MinCost)
	require.NoError(t, err)
	hash := string(raw)

	assert.NoError(t, verifyPassword(hash, "legacy-pass1"))
	assert.Equal(t, ErrPasswordMismatch, verifyPassword(hash, "nope"))
	assert.True(t, needsRehash(hash))
}

func TestNeedsRehash(t *testing.T) {
	weak := fmt.Sprintf("$scrypt$v=1$n=%d,r=8,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5", 1<<10)
	old := fmt.Sprintf("$scrypt$v=0$n=%d,r=8,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5", currentParams.N)

	tests := []struct {
		name string
		hash string
		want bool
	}{
		{name: "weaker parameters", hash: weak, want: true},
		{name: "older version", hash: old, want: true},
		{name: "malformed", hash: "$scrypt$nope", want: true},
		{name: "empty", hash: "", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsRehash(tt.hash))
		})
	}
}

func TestParseHash_malformed(t *testing.T) {
	for _, hash := range []string{
		"",
		"plain",
		"$argon2$v=1$n=1,r=1,p=1$c2FsdA$a2V5",
		"$scrypt$v=x$n=1,r=1,p=1$c2FsdA$a2V5",
		"$scrypt$v=1$n=1$c2FsdA$a2V5",
		"$scrypt$v=1$n=1,r=1,p=1$!!$a2V5",
		"$scrypt$v=1$n=1,r=1,p=1$c2FsdA$",
	} {
		_, err := parseHash(hash)
		assert.Equal(t, errMalformedHash, err, hash)
		assert.Equal(t, errMalformedHash, verifyPassword(hash, "pwd"), hash)
	}
}

func TestPasswordPolicyViolation(t *testing.T) {
	tests := []struct {
		pwd  string
		want string
	}{
		{pwd: "short1", want: pwdMinLenTag},
		{pwd: "12345678", want: pwdLetterTag},
		{pwd: "abcdefgh", want: pwdDigitTag},
		{pwd: "abcdefg1", want: ""},
		{pwd: "ünïcödé1", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.pwd, func(t *testing.T) {
			assert.Equal(t, tt.want, passwordPolicyViolation(tt.pwd))
		})
	}
}

func TestGenerateTempPassword(t *testing.T) {
	for i := 0; i < 20; i++ {
		pwd, err := generateTempPassword()
		require.NoError(t, err)
		assert.Len(t, pwd, tmpPwdLen)
		assert.Empty(t, passwordPolicyViolation(pwd))
	}
}
