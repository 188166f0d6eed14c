package cookies

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //nolint:gosec // Chromium derives its cookie key with PBKDF2-SHA1.

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/pbkdf2"
)

const (
	chromiumSalt        = "saltysalt"
	chromiumKeyLen      = 16
	chromiumIterLinux   = 1
	chromiumIterDarwin  = 1003
	chromiumV10Password = "peanuts"
	// Databases at or above this meta version prefix the plaintext with
	// SHA256(host_key).
	chromiumHostHashVersion = 24
)

var chromiumIV = bytes.Repeat([]byte{' '}, aes.BlockSize)

// chromiumKey derives the AES-128 key Chromium uses for v10/v11 values.
func chromiumKey(password []byte, iterations int) []byte {
	return pbkdf2.Key(password, []byte(chromiumSalt), iterations, chromiumKeyLen, sha1.New)
}

// decryptChromiumValue decrypts one encrypted_value blob. The three-byte
// version prefix ("v10"/"v11") must already be stripped.
func decryptChromiumValue(key, ciphertext []byte, stripHostHash bool) (string, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", eris.New("cookies: failed to decrypt: ciphertext is not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", eris.Wrap(err, "cookies: failed to decrypt: cipher init")
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, chromiumIV).CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	if stripHostHash {
		if len(plain) < 32 {
			return "", eris.New("cookies: failed to decrypt: value shorter than host hash")
		}
		plain = plain[32:]
	}
	return string(plain), nil
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, eris.New("cookies: failed to decrypt: empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, eris.New("cookies: failed to decrypt: bad padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, eris.New("cookies: failed to decrypt: bad padding")
		}
	}
	return b[:len(b)-n], nil
}
