package cookies

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	netscapeHeader = "# Netscape HTTP Cookie File\n# This file was generated by clipscript. Do not edit.\n\n"
	httpOnlyPrefix = "#HttpOnly_"
	defaultDomain  = ".douyin.com"
	oneYear        = 365 * 24 * time.Hour
)

// ParseNetscape parses the tab-separated Netscape cookie format. Comment and
// blank lines are skipped; malformed lines are ignored.
func ParseNetscape(r io.Reader) ([]Cookie, error) {
	var out []Cookie
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		expires, _ := strconv.ParseInt(parts[4], 10, 64)
		out = append(out, Cookie{
			Domain:   parts[0],
			Path:     parts[2],
			Secure:   strings.EqualFold(parts[3], "TRUE"),
			Expires:  expires,
			Name:     parts[5],
			Value:    strings.Join(parts[6:], "\t"),
			HTTPOnly: httpOnly,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "cookies: scan netscape")
	}
	return out, nil
}

// ReadNetscapeFile parses a cookies.txt file from disk.
func ReadNetscapeFile(path string) ([]Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cookies: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ParseNetscape(f)
}

// WriteNetscape serialises cookies in Netscape format. Missing domains and
// paths get defaults; session cookies are given a one-year expiry so
// downloaders that drop expired entries keep them.
func WriteNetscape(w io.Writer, in []Cookie, now time.Time) error {
	if _, err := io.WriteString(w, netscapeHeader); err != nil {
		return eris.Wrap(err, "cookies: write header")
	}
	for _, c := range in {
		domain := c.Domain
		if domain == "" {
			domain = defaultDomain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		expires := c.Expires
		if expires <= 0 {
			expires = now.Add(oneYear).Unix()
		}
		prefix := ""
		if c.HTTPOnly {
			prefix = httpOnlyPrefix
		}
		line := fmt.Sprintf("%s%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			prefix, domain, boolField(strings.HasPrefix(domain, ".")), path,
			boolField(c.Secure), expires, c.Name, c.Value)
		if _, err := io.WriteString(w, line); err != nil {
			return eris.Wrap(err, "cookies: write line")
		}
	}
	return nil
}

// WriteNetscapeFile atomically replaces path with the serialised cookies.
func WriteNetscapeFile(path string, in []Cookie, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "cookies: mkdir %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cookies-*.txt")
	if err != nil {
		return eris.Wrap(err, "cookies: create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := WriteNetscape(tmp, in, now); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "cookies: chmod temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cookies: close temp")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "cookies: rename to %s", path)
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
