package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxBatchSize is the hard ceiling on URLs per batch.
const MaxBatchSize = 50

var supportedURLs = []*regexp.Regexp{
	regexp.MustCompile(`^https?://v\.douyin\.com/`),
	regexp.MustCompile(`^https?://www\.douyin\.com/video/`),
	regexp.MustCompile(`^https?://www\.iesdouyin\.com/`),
	regexp.MustCompile(`^https?://www\.tiktok\.com/`),
}

// IsSupportedURL reports whether raw matches a known share or page pattern.
func IsSupportedURL(raw string) bool {
	for _, re := range supportedURLs {
		if re.MatchString(raw) {
			return true
		}
	}
	return false
}

// ValidateURL trims raw and checks it against the supported patterns.
func ValidateURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", &ValidationError{Reason: "url is required"}
	}
	if !IsSupportedURL(u) {
		return "", &ValidationError{Reason: "unsupported url", Invalid: []string{u}}
	}
	return u, nil
}

// ValidateBatch trims every entry, drops blanks, and rejects the batch if it
// is empty, larger than limit, or contains unsupported URLs. A limit <= 0
// means MaxBatchSize.
func ValidateBatch(urls []string, limit int) ([]string, error) {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	cleaned := make([]string, 0, len(urls))
	for _, raw := range urls {
		if u := strings.TrimSpace(raw); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return nil, &ValidationError{Reason: "batch contains no urls"}
	}
	if len(cleaned) > limit {
		return nil, &ValidationError{Reason: "batch too large (max " + strconv.Itoa(limit) + ")"}
	}

	var invalid []string
	for _, u := range cleaned {
		if !IsSupportedURL(u) {
			invalid = append(invalid, u)
		}
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Reason: "unsupported urls", Invalid: invalid}
	}
	return cleaned, nil
}
