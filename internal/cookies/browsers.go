package cookies

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultFallback is the order browsers are tried in after the primary one.
var DefaultFallback = []string{"edge", "chrome", "firefox", "chromium", "brave", "opera", "vivaldi"}

type chromiumBrowser struct {
	linux, darwin, windows string
	// keyring application / keychain service name.
	linuxApp, darwinService string
}

var chromiumBrowsers = map[string]chromiumBrowser{
	"chrome": {
		linux: "google-chrome", darwin: "Google/Chrome", windows: "Google/Chrome/User Data",
		linuxApp: "chrome", darwinService: "Chrome Safe Storage",
	},
	"chromium": {
		linux: "chromium", darwin: "Chromium", windows: "Chromium/User Data",
		linuxApp: "chromium", darwinService: "Chromium Safe Storage",
	},
	"edge": {
		linux: "microsoft-edge", darwin: "Microsoft Edge", windows: "Microsoft/Edge/User Data",
		linuxApp: "chromium", darwinService: "Microsoft Edge Safe Storage",
	},
	"brave": {
		linux: "BraveSoftware/Brave-Browser", darwin: "BraveSoftware/Brave-Browser", windows: "BraveSoftware/Brave-Browser/User Data",
		linuxApp: "brave", darwinService: "Brave Safe Storage",
	},
	"opera": {
		linux: "opera", darwin: "com.operasoftware.Opera", windows: "Opera Software/Opera Stable",
		linuxApp: "chromium", darwinService: "Opera Safe Storage",
	},
	"vivaldi": {
		linux: "vivaldi", darwin: "Vivaldi", windows: "Vivaldi/User Data",
		linuxApp: "chromium", darwinService: "Vivaldi Safe Storage",
	},
}

// Browsers lists every supported browser name.
func Browsers() []string {
	return append([]string(nil), DefaultFallback...)
}

// NewBrowserSource returns the Source for a browser name (case-insensitive)
// using the current user's standard profile locations.
func NewBrowserSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, eris.Wrap(err, "cookies: resolve home dir")
	}

	if name == "firefox" {
		return FirefoxSource{Root: firefoxRoot(runtime.GOOS, home)}, nil
	}

	b, ok := chromiumBrowsers[name]
	if !ok {
		return nil, eris.Errorf("cookies: unsupported browser %q", name)
	}
	src := ChromiumSource{Browser: name}
	switch runtime.GOOS {
	case "linux":
		src.UserDataDir = filepath.Join(configHome(home), filepath.FromSlash(b.linux))
		src.Keyring = SecretToolPassword(b.linuxApp)
	case "darwin":
		src.UserDataDir = filepath.Join(home, "Library", "Application Support", filepath.FromSlash(b.darwin))
		src.Keyring = KeychainPassword(b.darwinService)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			src.UserDataDir = filepath.Join(local, filepath.FromSlash(b.windows))
		}
	}
	return src, nil
}

func configHome(home string) string {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return x
	}
	return filepath.Join(home, ".config")
}

func firefoxRoot(goos, home string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox", "Profiles")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Mozilla", "Firefox", "Profiles")
	default:
		return filepath.Join(home, ".mozilla", "firefox")
	}
}
