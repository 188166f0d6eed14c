package cookies

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// openSnapshot copies a browser cookie database (plus its WAL/SHM side files)
// into a private temp dir and opens the copy. Browsers hold an exclusive lock
// on the live file while running.
func openSnapshot(ctx context.Context, src string) (*sql.DB, func(), error) {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, eris.Wrapf(ErrSourceUnavailable, "cookies: %s", src)
		}
		return nil, nil, eris.Wrapf(err, "cookies: stat %s", src)
	}

	dir, err := os.MkdirTemp("", "clipscript-cookies-*")
	if err != nil {
		return nil, nil, eris.Wrap(err, "cookies: create snapshot dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	dst := filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		cleanup()
		return nil, nil, eris.Wrapf(err, "cookies: failed to load cookies from %s (database is locked?)", src)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(src + suffix); err == nil {
			_ = copyFile(src+suffix, dst+suffix)
		}
	}

	db, err := sql.Open("sqlite", dst)
	if err != nil {
		cleanup()
		return nil, nil, eris.Wrap(err, "cookies: open snapshot")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		cleanup()
		return nil, nil, eris.Wrap(err, "cookies: ping snapshot")
	}
	return db, func() {
		_ = db.Close()
		cleanup()
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
