package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// MaxNameRunes bounds the sanitized title length.
const MaxNameRunes = 80

// SafeName turns a title into a filesystem-safe base name. Letters and digits
// of any script survive; everything else except ". _ -" and space becomes
// an underscore.
func SafeName(title string) string {
	title = norm.NFC.String(strings.TrimSpace(title))

	var b strings.Builder
	n := 0
	for _, r := range title {
		if n >= MaxNameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '_', r == '-', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		n++
	}

	name := strings.Trim(b.String(), " .")
	if name == "" {
		return "untitled"
	}
	return name
}

// reserve creates dir/base.json exclusively, appending _2, _3, ... when the
// name is taken. The returned file is open for writing.
func reserve(dir, base string) (*os.File, string, error) {
	for i := 1; i < 1000; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		if _, err := os.Stat(filepath.Join(dir, name+".txt")); err == nil {
			continue
		}
		f, err := os.OpenFile(filepath.Join(dir, name+".json"), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, name, nil
	}
	return nil, "", eris.Errorf("no free file name for %q", base)
}
