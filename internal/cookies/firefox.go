package cookies

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
)

// FirefoxSource reads cookies.sqlite from the most recently used Firefox
// profile under Root (for example ~/.mozilla/firefox).
type FirefoxSource struct {
	Root string
}

// Name implements Source.
func (f FirefoxSource) Name() string { return "firefox" }

// Read implements Source.
func (f FirefoxSource) Read(ctx context.Context) ([]Cookie, error) {
	dbPath, err := f.findDatabase()
	if err != nil {
		return nil, err
	}

	db, closeFn, err := openSnapshot(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	rows, err := db.QueryContext(ctx,
		`SELECT host, name, value, path, expiry, isSecure, isHttpOnly FROM moz_cookies`)
	if err != nil {
		return nil, eris.Wrap(err, "cookies: failed to load cookies from firefox cookie database")
	}
	defer rows.Close() //nolint:errcheck

	var out []Cookie
	for rows.Next() {
		var (
			c                Cookie
			secure, httpOnly int
		)
		if err := rows.Scan(&c.Domain, &c.Name, &c.Value, &c.Path, &c.Expires, &secure, &httpOnly); err != nil {
			return nil, eris.Wrap(err, "cookies: scan firefox row")
		}
		c.Secure = secure != 0
		c.HTTPOnly = httpOnly != 0
		// Firefox stores some expiries in milliseconds.
		if c.Expires > 1e11 {
			c.Expires /= 1000
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "cookies: iterate firefox rows")
	}
	return out, nil
}

func (f FirefoxSource) findDatabase() (string, error) {
	matches, err := filepath.Glob(filepath.Join(f.Root, "*", "cookies.sqlite"))
	if err != nil {
		return "", eris.Wrap(err, "cookies: glob firefox profiles")
	}
	if len(matches) == 0 {
		return "", eris.Wrapf(ErrSourceUnavailable, "cookies: no firefox profile under %s", f.Root)
	}

	type candidate struct {
		path string
		mod  int64
	}
	cands := make([]candidate, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{path: m, mod: info.ModTime().UnixNano()})
	}
	if len(cands) == 0 {
		return "", eris.Wrapf(ErrSourceUnavailable, "cookies: no readable firefox profile under %s", f.Root)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].mod > cands[j].mod })
	return cands[0].path, nil
}
