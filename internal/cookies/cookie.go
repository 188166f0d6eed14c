// Package cookies reads browser cookie stores and Netscape cookie files.
package cookies

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrSourceUnavailable means the source has no cookie store on this machine.
var ErrSourceUnavailable = eris.New("cookies database not found")

// Cookie is one raw key/value record read from a cookie source.
type Cookie struct {
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
	// Expires is a unix timestamp in seconds; 0 means session cookie.
	Expires int64 `json:"expires"`
}

// Source produces cookie records from one place (a file or a browser profile).
type Source interface {
	Name() string
	Read(ctx context.Context) ([]Cookie, error)
}

// FilterDomains keeps cookies whose domain ends with one of the suffixes.
// An empty suffix list keeps everything.
func FilterDomains(in []Cookie, suffixes []string) []Cookie {
	if len(suffixes) == 0 {
		return in
	}
	out := make([]Cookie, 0, len(in))
	for _, c := range in {
		d := strings.ToLower(strings.TrimPrefix(c.Domain, "#HttpOnly_"))
		for _, s := range suffixes {
			if s != "" && strings.HasSuffix(d, strings.ToLower(s)) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Names returns the distinct non-empty cookie names.
func Names(in []Cookie) map[string]struct{} {
	names := make(map[string]struct{}, len(in))
	for _, c := range in {
		if c.Name != "" {
			names[c.Name] = struct{}{}
		}
	}
	return names
}

// FileSource reads a Netscape-format cookies.txt file.
type FileSource struct {
	Path string
}

// Name implements Source.
func (f FileSource) Name() string { return "file:" + f.Path }

// Read implements Source.
func (f FileSource) Read(_ context.Context) ([]Cookie, error) {
	return ReadNetscapeFile(f.Path)
}
