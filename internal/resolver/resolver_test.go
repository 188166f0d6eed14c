package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clipscript/internal/cookies"
)

type fakeSource struct {
	name  string
	items []cookies.Cookie
	err   error
	calls *atomic.Int32
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Read(context.Context) ([]cookies.Cookie, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	return f.items, f.err
}

type fakeSources struct {
	byName map[string]fakeSource
	calls  atomic.Int32
	order  []string
}

func (f *fakeSources) factory(name string) (cookies.Source, error) {
	f.order = append(f.order, name)
	src, ok := f.byName[name]
	if !ok {
		return nil, cookies.ErrSourceUnavailable
	}
	src.calls = &f.calls
	return src, nil
}

func jar(names ...string) []cookies.Cookie {
	out := make([]cookies.Cookie, len(names))
	for i, n := range names {
		out[i] = cookies.Cookie{Domain: ".douyin.com", Name: n, Value: "v"}
	}
	return out
}

func filler(n int) []cookies.Cookie {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
	}
	return jar(names...)
}

func TestResolve_WeightedScorePicksSmallerSet(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{
		"a": {name: "a", err: eris.New("failed to decrypt cookie")},
		"b": {name: "b", items: jar("sessionid", "x", "y")},
		"c": {name: "c", items: filler(10)},
	}}
	r := New(Config{Primary: "a", Fallback: []string{"b", "c"}, ArtifactPath: filepath.Join(t.TempDir(), "cookies.txt")}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Named("b"), res.Strategy)
	assert.Equal(t, 123, res.Score)
	require.Len(t, res.Attempts, 3)
	assert.True(t, res.Attempts[0].Failed())
	assert.Equal(t, 10, res.Attempts[2].Score)
	assert.Equal(t, r.Artifact().Path, res.Path)

	written, err := cookies.ReadNetscapeFile(res.Path)
	require.NoError(t, err)
	assert.Len(t, written, 3)
}

func TestResolve_RawCountWinsWithoutWeightedNames(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{
		"b": {name: "b", items: jar("x", "y", "z")},
		"c": {name: "c", items: filler(10)},
	}}
	r := New(Config{Fallback: []string{"b", "c"}}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Named("c"), res.Strategy)
	assert.Equal(t, 10, res.Score)
	assert.Empty(t, res.Path, "no artifact configured")
}

func TestResolve_TieKeepsEarlierCandidate(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{
		"first":  {name: "first", items: jar("ttwid", "a")},
		"second": {name: "second", items: jar("ttwid", "b")},
	}}
	r := New(Config{Primary: "first", Fallback: []string{"second"}}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Named("first"), res.Strategy)
}

func TestResolve_DomainFilterAppliesToNamedSources(t *testing.T) {
	items := []cookies.Cookie{
		{Domain: ".douyin.com", Name: "sessionid"},
		{Domain: ".example.com", Name: "other"},
	}
	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: items}}}
	r := New(Config{Primary: "chrome", Domains: []string{"douyin.com"}}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Cookies, 1)
	assert.Equal(t, 121, res.Score)
}

func TestResolve_OverrideFailureIsFinal(t *testing.T) {
	override := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(override, []byte("# only comments\n"), 0o600))

	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: jar("sessionid")}}}
	r := New(Config{OverridePath: override, Primary: "chrome"}, src.factory)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.True(t, ex.OverrideFailed)
	assert.Equal(t, []string{"override:" + override}, ex.Tried())
	assert.Zero(t, src.calls.Load(), "fallback candidates must not run")
	assert.Contains(t, err.Error(), "Re-export")
}

func TestResolve_OverrideUsedVerbatim(t *testing.T) {
	override := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, cookies.WriteNetscapeFile(override, []cookies.Cookie{
		{Domain: ".example.com", Name: "sessionid", Value: "s"},
	}, time.Now()))

	src := &fakeSources{}
	r := New(Config{OverridePath: override, Primary: "chrome", Domains: []string{"douyin.com"}}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindOverride, res.Strategy.Kind)
	assert.Equal(t, override, res.Path)
	assert.Len(t, res.Cookies, 1, "override is not domain filtered")
	assert.Empty(t, src.order)
}

func TestResolve_MissingOverrideFallsBack(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{"firefox": {name: "firefox", items: jar("msToken")}}}
	r := New(Config{OverridePath: filepath.Join(t.TempDir(), "absent.txt"), Primary: "firefox"}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Named("firefox"), res.Strategy)
}

func TestResolve_NonLocalErrorAborts(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{
		"chrome":  {name: "chrome", err: eris.New("segfault in reader")},
		"firefox": {name: "firefox", items: jar("sessionid")},
	}}
	r := New(Config{Primary: "chrome", Fallback: []string{"firefox"}}, src.factory)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	var ex *ExhaustedError
	assert.False(t, errors.As(err, &ex))
	assert.Equal(t, []string{"chrome"}, src.order)
}

func TestResolve_AllFailedIsExhausted(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{
		"edge":   {name: "edge", err: eris.New("Failed to load cookies: database is locked")},
		"chrome": {name: "chrome"},
	}}
	r := New(Config{Primary: "Chrome", Fallback: cookies.DefaultFallback}, src.factory)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.False(t, ex.OverrideFailed)
	assert.Equal(t, []string{"chrome", "edge", "firefox", "chromium", "brave", "opera", "vivaldi"}, ex.Tried())
	assert.Contains(t, err.Error(), "upload the video file")
	assert.Contains(t, err.Error(), "no matching cookies")
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: jar("sessionid")}}}
	r := New(Config{Primary: "chrome", ArtifactPath: filepath.Join(t.TempDir(), "cookies.txt")}, src.factory)

	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	first, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), src.calls.Load())

	now = now.Add(2 * DefaultTTL)
	third, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestResolve_FreshArtifactFromAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, Artifact{Path: path}.Write(context.Background(), jar("sessionid", "s_v_web_id"), time.Now()))

	src := &fakeSources{}
	r := New(Config{Primary: "chrome", ArtifactPath: path}, src.factory)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, Named(CacheSource), res.Strategy)
	assert.Equal(t, 2+120+40, res.Score)
	assert.Empty(t, src.order)
}

func TestResolve_Invalidate(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: jar("a")}}}
	r := New(Config{Primary: "chrome"}, src.factory)

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestResolve_CancelledContext(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: jar("a")}}}
	r := New(Config{Primary: "chrome"}, src.factory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx)
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
}

func TestCandidates_Dedup(t *testing.T) {
	r := New(Config{Primary: " Firefox ", Fallback: []string{"edge", "firefox", "EDGE", ""}}, nil)
	got := r.Candidates()
	assert.Equal(t, []Strategy{Named("firefox"), Named("edge")}, got)
}

func TestIsCandidateLocal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{eris.New("Fresh cookies are needed"), true},
		{eris.New("requires running as admin"), true},
		{eris.Wrap(cookies.ErrSourceUnavailable, "cookies: chrome"), true},
		{eris.New("Unable to read Cookie Database"), true},
		{eris.Wrap(context.Canceled, "reading"), false},
		{eris.New("unexpected EOF"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCandidateLocal(tt.err), fmt.Sprint(tt.err))
	}
}

func TestLoadWeights(t *testing.T) {
	dir := t.TempDir()

	merged := filepath.Join(dir, "merge.yaml")
	require.NoError(t, os.WriteFile(merged, []byte("weights:\n  sessionid: 500\n  custom: 7\n"), 0o600))
	w, err := LoadWeights(merged)
	require.NoError(t, err)
	assert.Equal(t, 500, w["sessionid"])
	assert.Equal(t, 7, w["custom"])
	assert.Equal(t, 40, w["s_v_web_id"])

	replaced := filepath.Join(dir, "replace.yaml")
	require.NoError(t, os.WriteFile(replaced, []byte("replace: true\nweights:\n  only: 1\n"), 0o600))
	w, err = LoadWeights(replaced)
	require.NoError(t, err)
	assert.Equal(t, Weights{"only": 1}, w)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("weights:\n  x: -1\n"), 0o600))
	_, err = LoadWeights(bad)
	assert.Error(t, err)

	_, err = LoadWeights(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestArtifact_ImportStatusClear(t *testing.T) {
	ctx := context.Background()
	a := Artifact{Path: filepath.Join(t.TempDir(), "sub", "cookies.txt")}

	st := a.Status()
	assert.False(t, st.Present)
	assert.False(t, st.KeyFields["sessionid"])

	text := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		".douyin.com\tTRUE\t/\tFALSE\t0\tsessionid\ts",
		".douyin.com\tTRUE\t/\tFALSE\t0\tttwid\tt",
	}, "\n")
	n, err := a.Import(ctx, text, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st = a.Status()
	assert.True(t, st.Present)
	assert.Equal(t, 2, st.Count)
	assert.True(t, st.KeyFields["sessionid"])
	assert.True(t, st.KeyFields["ttwid"])
	assert.False(t, st.KeyFields["msToken"])
	assert.Positive(t, st.Size)

	_, err = a.Import(ctx, "# nothing\n", time.Now())
	assert.Error(t, err)

	removed, err := a.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = a.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, removed)
}

const importText = "# Netscape HTTP Cookie File\n" +
	".douyin.com\tTRUE\t/\tTRUE\t0\tsessionid\ts\n" +
	".douyin.com\tTRUE\t/\tFALSE\t0\ts_v_web_id\tv\n"

func TestResolve_ImportOutlivesTTL(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSources{}
	r := New(Config{Primary: "chrome", Fallback: cookies.DefaultFallback, ArtifactPath: filepath.Join(dir, "cookies.txt")}, src.factory)

	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	n, err := r.Import(context.Background(), importText)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, filepath.Join(dir, "cookies.import.txt"), r.Imports().Path)

	// A later process resolves long after the cache window.
	later := New(Config{Primary: "chrome", Fallback: cookies.DefaultFallback, ArtifactPath: filepath.Join(dir, "cookies.txt")}, src.factory)
	later.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }

	res, err := later.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Imported(r.Imports().Path), res.Strategy)
	assert.Equal(t, r.Imports().Path, res.Path)
	assert.Equal(t, 2+120+40, res.Score)
	assert.Empty(t, src.order, "browser sources are not consulted while an import exists")
}

func TestResolve_ClearImportFallsBackToBrowsers(t *testing.T) {
	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: jar("ttwid")}}}
	r := New(Config{Primary: "chrome", ArtifactPath: filepath.Join(t.TempDir(), "cookies.txt")}, src.factory)

	_, err := r.Import(context.Background(), importText)
	require.NoError(t, err)
	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindImported, res.Strategy.Kind)

	removed, err := r.ClearImport(context.Background())
	require.NoError(t, err)
	assert.True(t, removed)

	res, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Named("chrome"), res.Strategy)
}

func TestResolve_UnusableImportIsFinal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cookies.import.txt"), []byte("# emptied\n"), 0o600))

	src := &fakeSources{byName: map[string]fakeSource{"chrome": {name: "chrome", items: jar("sessionid")}}}
	r := New(Config{Primary: "chrome", ArtifactPath: filepath.Join(dir, "cookies.txt")}, src.factory)

	_, err := r.Resolve(context.Background())
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.True(t, ex.OverrideFailed)
	assert.Contains(t, err.Error(), "imported cookie file is unusable")
	assert.Contains(t, err.Error(), "cookies clear")
	assert.Zero(t, src.calls.Load())
}

func TestResolve_OverrideBeatsImport(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "mine.txt")
	require.NoError(t, cookies.WriteNetscapeFile(override, jar("msToken"), time.Now()))

	r := New(Config{OverridePath: override, ArtifactPath: filepath.Join(dir, "cookies.txt")}, (&fakeSources{}).factory)
	_, err := r.Import(context.Background(), importText)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Override(override), res.Strategy)
}
