package cookies

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// chromeEpochOffset is the number of seconds between 1601-01-01 and the unix epoch.
const chromeEpochOffset = 11644473600

// PasswordFunc returns the keyring secret a Chromium browser encrypts v11
// values with (and v10 values on macOS).
type PasswordFunc func(ctx context.Context) ([]byte, error)

// ChromiumSource reads the Cookies database of a Chromium-family browser.
type ChromiumSource struct {
	Browser string
	// UserDataDir holds the profile directories (Default, Profile 1, ...).
	UserDataDir string
	// Keyring is consulted for v11 values. Nil means no keyring.
	Keyring PasswordFunc
	// GOOS overrides runtime.GOOS. Tests only.
	GOOS string
}

// Name implements Source.
func (c ChromiumSource) Name() string { return c.Browser }

// Read implements Source.
func (c ChromiumSource) Read(ctx context.Context) ([]Cookie, error) {
	dbPath, err := c.findDatabase()
	if err != nil {
		return nil, err
	}

	db, closeFn, err := openSnapshot(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	stripHostHash := metaVersion(ctx, db) >= chromiumHostHashVersion

	rows, err := db.QueryContext(ctx, `SELECT host_key, name, value, encrypted_value, path,
		expires_utc, is_secure, is_httponly FROM cookies`)
	if err != nil {
		return nil, eris.Wrapf(err, "cookies: failed to load cookies from %s cookie database", c.Browser)
	}
	defer rows.Close() //nolint:errcheck

	keys := &keyCache{src: c}
	var (
		out      []Cookie
		failures int
		lastErr  error
	)
	for rows.Next() {
		var (
			ck               Cookie
			encrypted        []byte
			expiresUTC       int64
			secure, httpOnly int
		)
		if err := rows.Scan(&ck.Domain, &ck.Name, &ck.Value, &encrypted, &ck.Path,
			&expiresUTC, &secure, &httpOnly); err != nil {
			return nil, eris.Wrapf(err, "cookies: scan %s row", c.Browser)
		}
		ck.Secure = secure != 0
		ck.HTTPOnly = httpOnly != 0
		if expiresUTC > 0 {
			ck.Expires = expiresUTC/1_000_000 - chromeEpochOffset
		}

		if ck.Value == "" && len(encrypted) > 0 {
			v, err := c.decrypt(ctx, keys, encrypted, stripHostHash)
			if err != nil {
				failures++
				lastErr = err
				continue
			}
			ck.Value = v
		}
		out = append(out, ck)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "cookies: iterate %s rows", c.Browser)
	}

	if failures > 0 {
		zap.L().Debug("cookies: skipped undecryptable values",
			zap.String("source", c.Browser),
			zap.Int("failures", failures),
		)
		if len(out) == 0 {
			return nil, lastErr
		}
	}
	return out, nil
}

func (c ChromiumSource) goos() string {
	if c.GOOS != "" {
		return c.GOOS
	}
	return runtime.GOOS
}

func (c ChromiumSource) decrypt(ctx context.Context, keys *keyCache, blob []byte, stripHostHash bool) (string, error) {
	if len(blob) < 3 {
		return "", eris.New("cookies: failed to decrypt: value too short")
	}
	version, body := string(blob[:3]), blob[3:]

	switch c.goos() {
	case "windows":
		return "", eris.Errorf("cookies: failed to decrypt %s value: DPAPI and AppBound encryption are not supported", c.Browser)
	case "linux":
		switch version {
		case "v10":
			return decryptChromiumValue(keys.v10(), body, stripHostHash)
		case "v11":
			key, err := keys.v11(ctx)
			if err != nil {
				return "", err
			}
			return decryptChromiumValue(key, body, stripHostHash)
		}
	case "darwin":
		if version == "v10" {
			key, err := keys.darwin(ctx)
			if err != nil {
				return "", err
			}
			return decryptChromiumValue(key, body, stripHostHash)
		}
	}
	return "", eris.Errorf("cookies: failed to decrypt %s value: unknown format %q", c.Browser, version)
}

func (c ChromiumSource) findDatabase() (string, error) {
	if c.UserDataDir == "" {
		return "", eris.Wrapf(ErrSourceUnavailable, "cookies: %s is not supported on this platform", c.Browser)
	}
	profiles := []string{"Default"}
	extra, _ := filepath.Glob(filepath.Join(c.UserDataDir, "Profile *"))
	for _, p := range extra {
		profiles = append(profiles, filepath.Base(p))
	}
	for _, p := range profiles {
		for _, rel := range []string{filepath.Join("Network", "Cookies"), "Cookies"} {
			path := filepath.Join(c.UserDataDir, p, rel)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", eris.Wrapf(ErrSourceUnavailable, "cookies: no %s profile under %s", c.Browser, c.UserDataDir)
}

func metaVersion(ctx context.Context, db *sql.DB) int {
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&raw); err != nil {
		return 0
	}
	v, _ := strconv.Atoi(raw)
	return v
}

// keyCache derives each key at most once per Read.
type keyCache struct {
	src       ChromiumSource
	v10Key    []byte
	keyringOK bool
	keyring   []byte
	keyErr    error
}

func (k *keyCache) v10() []byte {
	if k.v10Key == nil {
		k.v10Key = chromiumKey([]byte(chromiumV10Password), chromiumIterLinux)
	}
	return k.v10Key
}

func (k *keyCache) secret(ctx context.Context) ([]byte, error) {
	if k.keyringOK || k.keyErr != nil {
		return k.keyring, k.keyErr
	}
	if k.src.Keyring == nil {
		k.keyErr = eris.Errorf("cookies: failed to decrypt %s value: no keyring available", k.src.Browser)
		return nil, k.keyErr
	}
	pw, err := k.src.Keyring(ctx)
	if err != nil {
		k.keyErr = eris.Wrapf(err, "cookies: failed to decrypt %s value: keyring lookup", k.src.Browser)
		return nil, k.keyErr
	}
	k.keyring, k.keyringOK = pw, true
	return pw, nil
}

func (k *keyCache) v11(ctx context.Context) ([]byte, error) {
	pw, err := k.secret(ctx)
	if err != nil {
		return nil, err
	}
	return chromiumKey(pw, chromiumIterLinux), nil
}

func (k *keyCache) darwin(ctx context.Context) ([]byte, error) {
	pw, err := k.secret(ctx)
	if err != nil {
		return nil, err
	}
	return chromiumKey(pw, chromiumIterDarwin), nil
}

// SecretToolPassword looks up the browser's safe-storage secret with the
// libsecret secret-tool CLI (Linux).
func SecretToolPassword(application string) PasswordFunc {
	return func(ctx context.Context) ([]byte, error) {
		out, err := exec.CommandContext(ctx, "secret-tool", "lookup", "application", application).Output()
		if err != nil {
			return nil, eris.Wrap(err, "cookies: secret-tool lookup")
		}
		pw := bytes.TrimRight(out, "\r\n")
		if len(pw) == 0 {
			return nil, eris.New("cookies: secret-tool returned an empty secret")
		}
		return pw, nil
	}
}

// KeychainPassword reads the browser's safe-storage secret from the macOS
// login keychain.
func KeychainPassword(service string) PasswordFunc {
	return func(ctx context.Context) ([]byte, error) {
		out, err := exec.CommandContext(ctx, "security", "find-generic-password", "-w", "-s", service).Output()
		if err != nil {
			return nil, eris.Wrapf(err, "cookies: keychain lookup %q", service)
		}
		return []byte(strings.TrimSpace(string(out))), nil
	}
}
