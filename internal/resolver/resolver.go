package resolver

import (
	"net/url"
	"os/exec"
	"strings"
)

type Platform int

const (
	PlatformGeneric Platform = iota
	PlatformYouTube
	PlatformInstagram
	PlatformTikTok
	PlatformFacebook
	PlatformTwitter
)

func (p Platform) String() string {
	switch p {
	case PlatformYouTube:
		return "youtube"
	case PlatformInstagram:
		return "instagram"
	case PlatformTikTok:
		return "tiktok"
	case PlatformFacebook:
		return "facebook"
	case PlatformTwitter:
		return "twitter"
	default:
		return "generic"
	}
}

// Restricted reports whether the platform is known to block generic clients.
func (p Platform) Restricted() bool {
	return p != PlatformGeneric
}

const (
	DefaultBinary   = "yt-dlp"
	PythonModule    = "yt_dlp"
	ForceIPv4Flag   = "--force-ipv4"
	UserAgentFlag   = "--user-agent"
	ProxyFlag       = "--proxy"
	desktopAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	mobileAgent     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	defaultAgentKey = PlatformGeneric
)

var hostSuffixes = []struct {
	suffix   string
	platform Platform
}{
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"youtube-nocookie.com", PlatformYouTube},
	{"instagram.com", PlatformInstagram},
	{"tiktok.com", PlatformTikTok},
	{"facebook.com", PlatformFacebook},
	{"fb.watch", PlatformFacebook},
	{"twitter.com", PlatformTwitter},
	{"x.com", PlatformTwitter},
}

// userAgents is keyed by platform; platforms missing from the table use the generic entry.
var userAgents = map[Platform]string{
	defaultAgentKey: desktopAgent,
	PlatformTikTok:  mobileAgent,
}

// alternateBinaryPlatforms need the alternate extractor build when the host has it.
var alternateBinaryPlatforms = map[Platform]bool{
	PlatformInstagram: true,
	PlatformTikTok:    true,
}

// Classify maps a source URL to a platform by host suffix.
func Classify(rawURL string) Platform {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return PlatformGeneric
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return PlatformGeneric
	}
	for _, hs := range hostSuffixes {
		if host == hs.suffix || strings.HasSuffix(host, "."+hs.suffix) {
			return hs.platform
		}
	}
	return PlatformGeneric
}

// HostCaps describes what the host offers. Empty paths mean "not installed".
type HostCaps struct {
	Binary          string
	AlternateBinary string
	Python          string
	Proxy           string
}

// DetectHostCaps looks up the configured tools on PATH once, at start-up.
func DetectHostCaps(binary, alternate, python, proxy string) HostCaps {
	caps := HostCaps{Proxy: strings.TrimSpace(proxy)}
	if binary == "" {
		binary = DefaultBinary
	}
	if p, err := exec.LookPath(binary); err == nil {
		caps.Binary = p
	}
	if alternate != "" {
		if p, err := exec.LookPath(alternate); err == nil {
			caps.AlternateBinary = p
		}
	}
	if python == "" {
		python = "python3"
	}
	if p, err := exec.LookPath(python); err == nil {
		caps.Python = p
	}
	return caps
}

type Invocation struct {
	Platform  Platform
	Path      string
	Args      []string
	Alternate bool
}

// Select picks the executable and base arguments for rawURL. It does no I/O.
func Select(rawURL string, caps HostCaps) Invocation {
	platform := Classify(rawURL)
	inv := Invocation{Platform: platform}

	switch {
	case platform.Restricted() && alternateBinaryPlatforms[platform] && caps.AlternateBinary != "":
		inv.Path = caps.AlternateBinary
		inv.Alternate = true
	case caps.Binary != "":
		inv.Path = caps.Binary
	case caps.Python != "":
		inv.Path = caps.Python
		inv.Args = append(inv.Args, "-m", PythonModule)
	default:
		inv.Path = DefaultBinary
	}

	if !platform.Restricted() {
		return inv
	}
	agent, ok := userAgents[platform]
	if !ok {
		agent = userAgents[defaultAgentKey]
	}
	inv.Args = append(inv.Args, ForceIPv4Flag, UserAgentFlag, agent)
	if caps.Proxy != "" {
		inv.Args = append(inv.Args, ProxyFlag, caps.Proxy)
	}
	return inv
}
