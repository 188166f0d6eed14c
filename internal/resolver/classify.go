package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clipscript/internal/cookies"
)

// candidateLocalHints mark errors caused by one source's environment
// (encryption, locking, missing store) rather than by the resolver itself.
var candidateLocalHints = []string{
	"fresh cookies",
	"failed to load cookies",
	"failed to decrypt",
	"dpapi",
	"appbound encryption",
	"app-bound encryption",
	"running as admin",
	"cookie database",
	"cookies database",
	"database is locked",
	"keyring",
	"unsupported browser",
	"permission denied",
}

// IsCandidateLocal reports whether err should move resolution on to the next
// candidate instead of aborting it.
func IsCandidateLocal(err error) bool {
	if err == nil {
		return false
	}
	if eris.Is(err, context.Canceled) || eris.Is(err, context.DeadlineExceeded) {
		return false
	}
	if eris.Is(err, cookies.ErrSourceUnavailable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, h := range candidateLocalHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}
