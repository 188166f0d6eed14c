package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/cookies"
)

// DefaultTTL is how long a resolved cookie set is reused.
const DefaultTTL = 60 * time.Second

// CacheSource names the strategy reported for results served from a fresh
// artifact written by an earlier resolution or an import.
const CacheSource = "cache"

// SourceFactory builds the cookie source for a candidate name.
type SourceFactory func(name string) (cookies.Source, error)

// Config controls candidate ordering, scoring and caching.
type Config struct {
	// OverridePath is an explicit cookies.txt. When the file exists it is the
	// only candidate.
	OverridePath string
	// Primary is tried first among named sources.
	Primary string
	// Fallback follows Primary, deduplicated case-insensitively.
	Fallback []string
	// Domains filters named-source cookies by domain suffix.
	Domains []string
	Weights Weights
	TTL     time.Duration
	// ArtifactPath receives the selected cookie set in Netscape format. It is
	// a TTL cache shared across processes.
	ArtifactPath string
	// ImportPath holds operator-imported cookies. It does not expire and is
	// used verbatim whenever OverridePath is unset or missing. Defaults to
	// cookies.import.txt next to ArtifactPath.
	ImportPath string
}

// Resolver runs the candidate fallback. It is safe for concurrent use;
// resolutions are serialised so concurrent stages share one extraction.
type Resolver struct {
	cfg      Config
	factory  SourceFactory
	artifact Artifact
	imports  Artifact
	nowFunc  func() time.Time

	mu       sync.Mutex
	cached   *Resolution
	cachedAt time.Time
}

// New creates a Resolver. A nil factory uses cookies.NewBrowserSource.
func New(cfg Config, factory SourceFactory) *Resolver {
	if factory == nil {
		factory = cookies.NewBrowserSource
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ImportPath == "" && cfg.ArtifactPath != "" {
		cfg.ImportPath = filepath.Join(filepath.Dir(cfg.ArtifactPath), "cookies.import.txt")
	}
	return &Resolver{
		cfg:      cfg,
		factory:  factory,
		artifact: Artifact{Path: cfg.ArtifactPath},
		imports:  Artifact{Path: cfg.ImportPath},
		nowFunc:  time.Now,
	}
}

// Artifact returns the side artifact the resolver writes to.
func (r *Resolver) Artifact() Artifact { return r.artifact }

// Imports returns the durable file that Import writes to.
func (r *Resolver) Imports() Artifact { return r.imports }

// Import validates Netscape text and stores it as the durable import, which
// takes precedence over named sources from the next resolution on.
func (r *Resolver) Import(ctx context.Context, text string) (int, error) {
	if r.imports.Path == "" {
		return 0, eris.New("resolver: no import path configured")
	}
	n, err := r.imports.Import(ctx, text, r.nowFunc())
	if err != nil {
		return 0, err
	}
	r.Invalidate()
	return n, nil
}

// ClearImport removes the durable import. It reports whether a file was removed.
func (r *Resolver) ClearImport(ctx context.Context) (bool, error) {
	if r.imports.Path == "" {
		return false, nil
	}
	removed, err := r.imports.Clear(ctx)
	if err != nil {
		return false, err
	}
	r.Invalidate()
	return removed, nil
}

// Candidates returns the ordered strategy list for the current filesystem state.
func (r *Resolver) Candidates() []Strategy {
	if p := r.cfg.OverridePath; p != "" {
		if _, err := os.Stat(p); err == nil {
			return []Strategy{Override(p)}
		}
		zap.L().Warn("resolver: override cookie file not found, falling back to named sources",
			zap.String("path", p),
		)
	}

	if p := r.imports.Path; p != "" && fileExists(p) {
		return []Strategy{Imported(p)}
	}

	seen := make(map[string]bool)
	var out []Strategy
	add := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Named(key))
	}
	add(r.cfg.Primary)
	for _, name := range r.cfg.Fallback {
		add(name)
	}
	return out
}

// Invalidate drops the in-memory cached resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Resolve returns the best available cookie set. Failures are either an
// *ExhaustedError or a non-candidate-local error from a source.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	if res, ok := r.fromCache(ctx, now); ok {
		return res, nil
	}

	candidates := r.Candidates()
	if len(candidates) == 0 {
		return nil, &ExhaustedError{}
	}

	if k := candidates[0].Kind; k == KindOverride || k == KindImported {
		return r.resolveOverride(ctx, candidates[0])
	}

	var (
		attempts []Attempt
		best     *Resolution
	)
	for _, s := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "resolver: resolve")
		}

		items, err := r.extract(ctx, s)
		a := Attempt{Strategy: s, Items: len(items), Err: err}
		if err != nil {
			if !IsCandidateLocal(err) {
				return nil, eris.Wrapf(err, "resolver: source %s", s)
			}
			zap.L().Debug("resolver: candidate failed", zap.String("source", s.String()), zap.Error(err))
			attempts = append(attempts, a)
			continue
		}
		if len(items) == 0 {
			zap.L().Debug("resolver: candidate empty", zap.String("source", s.String()))
			attempts = append(attempts, a)
			continue
		}

		a.Score = r.cfg.Weights.Score(items)
		attempts = append(attempts, a)
		zap.L().Info("resolver: candidate scored",
			zap.String("source", s.String()),
			zap.Int("items", a.Items),
			zap.Int("score", a.Score),
		)
		// Strict comparison keeps the earlier candidate on ties.
		if best == nil || a.Score > best.Score {
			best = &Resolution{Strategy: s, Cookies: items, Score: a.Score}
		}
	}

	if best == nil {
		return nil, &ExhaustedError{Attempts: attempts}
	}
	best.Attempts = attempts

	if _, ok := cookies.Names(best.Cookies)["s_v_web_id"]; !ok {
		zap.L().Warn("resolver: selected cookies lack s_v_web_id, downloads may still ask for fresh cookies",
			zap.String("source", best.Strategy.String()),
		)
	}

	if r.artifact.Path != "" {
		if err := r.artifact.Write(ctx, best.Cookies, now); err != nil {
			return nil, err
		}
		best.Path = r.artifact.Path
	}

	r.cached = best.clone()
	r.cachedAt = now
	zap.L().Info("resolver: selected cookie source",
		zap.String("source", best.Strategy.String()),
		zap.Int("score", best.Score),
		zap.Int("candidates", len(attempts)),
	)
	return best, nil
}

// resolveOverride uses an override or import file verbatim. Failure is final.
func (r *Resolver) resolveOverride(ctx context.Context, s Strategy) (*Resolution, error) {
	items, err := r.extract(ctx, s)
	a := Attempt{Strategy: s, Items: len(items), Err: err}
	if err != nil || len(items) == 0 {
		return nil, &ExhaustedError{Attempts: []Attempt{a}, OverrideFailed: true}
	}
	a.Score = r.cfg.Weights.Score(items)
	return &Resolution{
		Strategy: s,
		Cookies:  items,
		Score:    a.Score,
		Path:     s.Path,
		Attempts: []Attempt{a},
	}, nil
}

func (r *Resolver) extract(ctx context.Context, s Strategy) ([]cookies.Cookie, error) {
	if s.Kind == KindOverride || s.Kind == KindImported {
		return cookies.FileSource{Path: s.Path}.Read(ctx)
	}
	src, err := r.factory(s.Source)
	if err != nil {
		return nil, err
	}
	items, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	return cookies.FilterDomains(items, r.cfg.Domains), nil
}

func (r *Resolver) fromCache(ctx context.Context, now time.Time) (*Resolution, bool) {
	// Override and import files are cheap to read and always win.
	if r.cfg.OverridePath != "" && fileExists(r.cfg.OverridePath) {
		return nil, false
	}
	if r.imports.Path != "" && fileExists(r.imports.Path) {
		return nil, false
	}
	if r.cached != nil && now.Sub(r.cachedAt) < r.cfg.TTL {
		if r.artifact.Path == "" || fileExists(r.artifact.Path) {
			res := r.cached.clone()
			res.Cached = true
			return res, true
		}
	}
	r.cached = nil

	if r.artifact.Path == "" {
		return nil, false
	}
	items, ok := r.artifact.Fresh(ctx, r.cfg.TTL, now)
	if !ok {
		return nil, false
	}
	return &Resolution{
		Strategy: Named(CacheSource),
		Cookies:  items,
		Score:    r.cfg.Weights.Score(items),
		Path:     r.artifact.Path,
		Cached:   true,
	}, true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
