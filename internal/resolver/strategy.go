// Package resolver picks the most usable cookie set among an ordered list of
// acquisition strategies, falling back past blocked or empty sources.
package resolver

import (
	"fmt"
	"strings"

	"github.com/sells-group/clipscript/internal/cookies"
)

// Kind tags a Strategy variant.
type Kind int

const (
	// KindOverride reads an explicitly configured cookies.txt. When present it
	// is the only strategy attempted.
	KindOverride Kind = iota
	// KindNamed reads a named source such as a browser profile.
	KindNamed
	// KindImported reads cookies an operator imported earlier. Like an
	// override it is exclusive while the file exists.
	KindImported
)

// Strategy is one candidate way of acquiring cookies.
type Strategy struct {
	Kind   Kind   `json:"kind"`
	Path   string `json:"path,omitempty"`
	Source string `json:"source,omitempty"`
}

// Override returns the override-file strategy.
func Override(path string) Strategy { return Strategy{Kind: KindOverride, Path: path} }

// Imported returns the strategy for the durable import file.
func Imported(path string) Strategy { return Strategy{Kind: KindImported, Path: path} }

// Named returns the strategy for a named source.
func Named(source string) Strategy { return Strategy{Kind: KindNamed, Source: source} }

func (s Strategy) String() string {
	switch s.Kind {
	case KindOverride:
		return "override:" + s.Path
	case KindImported:
		return "import:" + s.Path
	}
	return s.Source
}

// Attempt records the outcome of trying one Strategy.
type Attempt struct {
	Strategy Strategy `json:"strategy"`
	Items    int      `json:"items"`
	Score    int      `json:"score"`
	Err      error    `json:"-"`
}

// Failed reports whether the attempt produced nothing usable.
func (a Attempt) Failed() bool { return a.Err != nil || a.Items == 0 }

// Reason is a human-readable failure description.
func (a Attempt) Reason() string {
	switch {
	case a.Err != nil:
		return a.Err.Error()
	case a.Items == 0:
		return "no matching cookies"
	default:
		return ""
	}
}

// Resolution is the selected cookie set.
type Resolution struct {
	Strategy Strategy         `json:"strategy"`
	Cookies  []cookies.Cookie `json:"-"`
	Score    int              `json:"score"`
	// Path is the Netscape file downstream tools should read.
	Path     string    `json:"path"`
	Attempts []Attempt `json:"attempts,omitempty"`
	Cached   bool      `json:"cached"`
}

func (r *Resolution) clone() *Resolution {
	cp := *r
	cp.Cookies = append([]cookies.Cookie(nil), r.Cookies...)
	cp.Attempts = append([]Attempt(nil), r.Attempts...)
	return &cp
}

// ExhaustedError means no strategy produced a usable cookie set.
type ExhaustedError struct {
	Attempts []Attempt
	// OverrideFailed is set when the override or import file was the only
	// strategy and it failed.
	OverrideFailed bool
}

func (e *ExhaustedError) importFailed() bool {
	return e.OverrideFailed && len(e.Attempts) > 0 && e.Attempts[0].Strategy.Kind == KindImported
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	switch {
	case e.importFailed():
		b.WriteString("resolver: imported cookie file is unusable")
	case e.OverrideFailed:
		b.WriteString("resolver: configured cookie file is unusable")
	default:
		b.WriteString("resolver: no cookie source produced usable cookies")
	}
	if len(e.Attempts) > 0 {
		b.WriteString(" (tried ")
		for i, a := range e.Attempts {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s: %s", a.Strategy, a.Reason())
		}
		b.WriteString(")")
	}
	b.WriteString(". ")
	b.WriteString(e.Remediation())
	return b.String()
}

// Remediation describes what the operator can do next.
func (e *ExhaustedError) Remediation() string {
	if e.importFailed() {
		return "Re-import a fresh Netscape export with `clipscript cookies import`, or run `clipscript cookies clear` to fall back to browser extraction."
	}
	if e.OverrideFailed {
		return "Re-export cookies.txt in Netscape format while logged in, or clear cookies.file to fall back to browser extraction."
	}
	return "Export cookies.txt manually with a browser extension and set cookies.file (or import it with `clipscript cookies import`), " +
		"run with elevated privileges if the browser encrypts cookies with app-bound keys, " +
		"or upload the video file directly instead of downloading it."
}

// Tried lists the strategies attempted, in order.
func (e *ExhaustedError) Tried() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Strategy.String()
	}
	return out
}
