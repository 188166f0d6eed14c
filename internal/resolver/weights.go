package resolver

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/clipscript/internal/cookies"
)

// Weights maps cookie names to the bonus a candidate earns for carrying them.
type Weights map[string]int

// DefaultWeights favours session cookies, then anti-automation freshness
// markers, then device identifiers.
func DefaultWeights() Weights {
	return Weights{
		// authenticated session
		"sessionid":            120,
		"sessionid_ss":         120,
		"sid_tt":               90,
		"uid_tt":               90,
		"passport_auth_status": 60,
		// freshness / anti-automation
		"msToken":        60,
		"ms_token":       60,
		"s_v_web_id":     40,
		"__ac_signature": 30,
		"__ac_nonce":     20,
		// device / tracking
		"ttwid":                       20,
		"odin_tt":                     20,
		"passport_csrf_token":         15,
		"passport_csrf_token_default": 10,
	}
}

type weightsFile struct {
	Weights map[string]int `yaml:"weights"`
	Replace bool           `yaml:"replace"`
}

// LoadWeights reads a YAML weight table. Entries are merged over the defaults
// unless the file sets replace: true.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: read weights %s", path)
	}
	var f weightsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "resolver: parse weights %s", path)
	}

	w := DefaultWeights()
	if f.Replace {
		w = Weights{}
	}
	for k, v := range f.Weights {
		if v < 0 {
			return nil, eris.Errorf("resolver: weight for %q must be non-negative, got %d", k, v)
		}
		w[k] = v
	}
	return w, nil
}

// Score is the item count plus the weight of every distinct weighted name present.
func (w Weights) Score(in []cookies.Cookie) int {
	score := len(in)
	for name := range cookies.Names(in) {
		score += w[name]
	}
	return score
}
