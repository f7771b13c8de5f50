// Package useragent turns beacon user-agent strings into the coarse labels
// used by the ingest metrics.
package useragent

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device classes. Unknown is used for an empty user agent.
const (
	Desktop = "desktop"
	Mobile  = "mobile"
	Tablet  = "tablet"
	Bot     = "bot"
	Unknown = "unknown"
)

// Info is the parsed form of a user-agent string.
type Info struct {
	Browser string
	OS      string
	Device  string
}

var botMarkers = []string{"bot", "crawler", "spider", "crawl", "slurp", "archiver", "headless", "lighthouse"}

var tabletMarkers = []string{"ipad", "tablet", "kindle", "playbook", "silk"}

// Parse extracts the browser family, OS family and device class of ua.
func Parse(ua string) Info {
	if strings.TrimSpace(ua) == "" {
		return Info{Browser: "Unknown", OS: "Unknown", Device: Unknown}
	}

	parsed := useragent.New(ua)
	lower := strings.ToLower(ua)

	if parsed.Bot() || containsAny(lower, botMarkers) {
		return Info{Browser: "Bot", OS: "Bot", Device: Bot}
	}

	name, _ := parsed.Browser()
	info := Info{
		Browser: browserFamily(name),
		OS:      osFamily(parsed.OS(), lower),
	}
	switch {
	case containsAny(lower, tabletMarkers):
		info.Device = Tablet
	case parsed.Mobile():
		info.Device = Mobile
	default:
		info.Device = Desktop
	}
	return info
}

// Device returns only the device class of ua.
func Device(ua string) string {
	return Parse(ua).Device
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func browserFamily(name string) string {
	switch strings.ToLower(name) {
	case "chrome", "google chrome":
		return "Chrome"
	case "firefox", "mozilla firefox":
		return "Firefox"
	case "safari", "mobile safari":
		return "Safari"
	case "edge", "microsoft edge":
		return "Edge"
	case "opera", "opera mini":
		return "Opera"
	case "ie", "internet explorer", "msie":
		return "Internet Explorer"
	case "":
		return "Unknown"
	default:
		return name
	}
}

func osFamily(os, lowerUA string) string {
	lowerOS := strings.ToLower(os)
	switch {
	case strings.Contains(lowerUA, "iphone"), strings.Contains(lowerUA, "ipad"), strings.Contains(lowerOS, "ios"):
		return "iOS"
	case strings.Contains(lowerOS, "android"):
		return "Android"
	case strings.Contains(lowerOS, "windows"):
		return "Windows"
	case strings.Contains(lowerOS, "mac os"), strings.Contains(lowerUA, "macintosh"):
		return "macOS"
	case strings.Contains(lowerOS, "cros"), strings.Contains(lowerUA, "cros"):
		return "Chrome OS"
	case strings.Contains(lowerOS, "linux"):
		return "Linux"
	case os == "":
		return "Unknown"
	default:
		return os
	}
}
