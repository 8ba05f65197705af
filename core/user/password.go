package user

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// Password hashes are stored as:
//
//	$scrypt$v=<version>$n=<N>,r=<r>,p=<p>$<salt>$<key>
//
// salt and key are base64 (std, unpadded). Bcrypt hashes from older imports are still accepted.
const (
	hashScheme  = "scrypt"
	hashVersion = 1
	saltLen     = 16
	keyLen      = 32
)

type kdfParams struct {
	N, R, P int
}

var (
	currentParams = kdfParams{N: 1 << 15, R: 8, P: 1}

	b64 = base64.RawStdEncoding

	errMalformedHash    = errors.New("malformed password hash")
	ErrPasswordMismatch = errors.New("password mismatch")

	dummyOnce sync.Once
	dummyHash string
)

func hashPassword(pwd string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generating salt")
	}
	p := currentParams
	key, err := scrypt.Key([]byte(pwd), salt, p.N, p.R, p.P, keyLen)
	if err != nil {
		return "", errors.Wrap(err, "deriving key")
	}
	return fmt.Sprintf("$%s$v=%d$n=%d,r=%d,p=%d$%s$%s",
		hashScheme, hashVersion, p.N, p.R, p.P, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

type parsedHash struct {
	version int
	params  kdfParams
	salt    []byte
	key     []byte
}

func parseHash(encoded string) (parsedHash, error) {
	var ph parsedHash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != hashScheme {
		return ph, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &ph.version); err != nil {
		return ph, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "n=%d,r=%d,p=%d", &ph.params.N, &ph.params.R, &ph.params.P); err != nil {
		return ph, errMalformedHash
	}
	var err error
	if ph.salt, err = b64.DecodeString(parts[4]); err != nil {
		return ph, errMalformedHash
	}
	if ph.key, err = b64.DecodeString(parts[5]); err != nil || len(ph.key) == 0 {
		return ph, errMalformedHash
	}
	return ph, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

// verifyPassword reports ErrPasswordMismatch when pwd does not match the encoded hash.
func verifyPassword(encoded, pwd string) error {
	if isBcrypt(encoded) {
		if err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(pwd)); err != nil {
			return ErrPasswordMismatch
		}
		return nil
	}

	ph, err := parseHash(encoded)
	if err != nil {
		return err
	}
	key, err := scrypt.Key([]byte(pwd), ph.salt, ph.params.N, ph.params.R, ph.params.P, len(ph.key))
	if err != nil {
		return errors.Wrap(err, "deriving key")
	}
	if subtle.ConstantTimeCompare(key, ph.key) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// needsRehash reports whether encoded was produced by a legacy scheme, an older version or weaker parameters.
func needsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	ph, err := parseHash(encoded)
	if err != nil {
		return true
	}
	return ph.version < hashVersion ||
		ph.params.N < currentParams.N || ph.params.R < currentParams.R || ph.params.P < currentParams.P
}

// burnPasswordCheck runs one verification against a fixed hash so that unknown accounts
// take as long to reject as known ones.
func burnPasswordCheck(pwd string) {
	dummyOnce.Do(func() {
		dummyHash, _ = hashPassword("not-a-real-password-1")
	})
	_ = verifyPassword(dummyHash, pwd)
}
