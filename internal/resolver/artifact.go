package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/cookies"
)

// KeyFields are reported by Status as present or missing.
var KeyFields = []string{"sessionid", "s_v_web_id", "msToken", "ttwid"}

const lockRetry = 25 * time.Millisecond

// Artifact is a Netscape cookies.txt shared with downloaders, either the
// resolver's cached selection or the operator's import. Writers across
// processes are serialised with a sidecar lock file.
type Artifact struct {
	Path string
}

// ArtifactStatus summarises the artifact without exposing cookie values.
type ArtifactStatus struct {
	Present   bool            `json:"has_cookies"`
	Path      string          `json:"path"`
	Size      int64           `json:"file_size,omitempty"`
	Count     int             `json:"cookie_count,omitempty"`
	KeyFields map[string]bool `json:"key_fields"`
	ModTime   *time.Time      `json:"modified_at,omitempty"`
}

func (a Artifact) lock() *flock.Flock { return flock.New(a.Path + ".lock") }

func (a Artifact) withLock(ctx context.Context, shared bool, fn func() error) error {
	fl := a.lock()
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(ctx, lockRetry)
	} else {
		ok, err = fl.TryLockContext(ctx, lockRetry)
	}
	if err != nil {
		return eris.Wrapf(err, "resolver: lock %s", a.Path)
	}
	if !ok {
		return eris.Errorf("resolver: lock %s not acquired", a.Path)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			zap.L().Warn("resolver: release artifact lock", zap.Error(err))
		}
	}()
	return fn()
}

// Write replaces the artifact with the given cookies.
func (a Artifact) Write(ctx context.Context, in []cookies.Cookie, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return eris.Wrap(err, "resolver: create artifact dir")
	}
	return a.withLock(ctx, false, func() error {
		return cookies.WriteNetscapeFile(a.Path, in, now)
	})
}

// Fresh returns the artifact's cookies when it was written within ttl.
func (a Artifact) Fresh(ctx context.Context, ttl time.Duration, now time.Time) ([]cookies.Cookie, bool) {
	info, err := os.Stat(a.Path)
	if err != nil || ttl <= 0 {
		return nil, false
	}
	age := now.Sub(info.ModTime())
	if age < 0 || age >= ttl {
		return nil, false
	}
	var out []cookies.Cookie
	err = a.withLock(ctx, true, func() error {
		var rerr error
		out, rerr = cookies.ReadNetscapeFile(a.Path)
		return rerr
	})
	if err != nil || len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Import validates Netscape text and stores it as the artifact. It returns
// the number of cookies imported.
func (a Artifact) Import(ctx context.Context, text string, now time.Time) (int, error) {
	parsed, err := cookies.ParseNetscape(strings.NewReader(text))
	if err != nil {
		return 0, err
	}
	if len(parsed) == 0 {
		return 0, eris.New("resolver: no cookies found in Netscape text")
	}
	if err := a.Write(ctx, parsed, now); err != nil {
		return 0, err
	}
	return len(parsed), nil
}

// Clear removes the artifact. It reports whether a file was removed.
func (a Artifact) Clear(ctx context.Context) (bool, error) {
	if _, err := os.Stat(a.Path); os.IsNotExist(err) {
		return false, nil
	}
	err := a.withLock(ctx, false, func() error {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "resolver: remove %s", a.Path)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Status inspects the artifact.
func (a Artifact) Status() ArtifactStatus {
	st := ArtifactStatus{Path: a.Path, KeyFields: map[string]bool{}}
	for _, k := range KeyFields {
		st.KeyFields[k] = false
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return st
	}
	parsed, err := cookies.ReadNetscapeFile(a.Path)
	if err != nil {
		zap.L().Warn("resolver: unreadable cookie artifact", zap.String("path", a.Path), zap.Error(err))
		return st
	}

	mod := info.ModTime()
	st.Present = true
	st.Size = info.Size()
	st.Count = len(parsed)
	st.ModTime = &mod
	names := cookies.Names(parsed)
	for _, k := range KeyFields {
		_, st.KeyFields[k] = names[k]
	}
	return st
}
