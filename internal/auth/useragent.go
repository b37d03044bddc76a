package auth

import "strings"

// DeviceInfo is the best-effort classification of a User-Agent header.
type DeviceInfo struct {
	Browser    string
	OS         string
	DeviceType string
}

// ParseUserAgent classifies a raw User-Agent header. It is intentionally a
// coarse substring match; session metadata is informational, not a security
// control.
func ParseUserAgent(ua string) DeviceInfo {
	info := DeviceInfo{Browser: "Unknown", OS: "Unknown", DeviceType: "desktop"}
	if ua == "" {
		info.DeviceType = "unknown"
		return info
	}
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "edg/"):
		info.Browser = "Edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		info.Browser = "Opera"
	case strings.Contains(lower, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(lower, "safari"):
		info.Browser = "Safari"
	case strings.Contains(lower, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(lower, "curl"):
		info.Browser = "curl"
	}

	switch {
	case strings.Contains(lower, "android"):
		info.OS = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		info.OS = "iOS"
	case strings.Contains(lower, "windows"):
		info.OS = "Windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		info.OS = "macOS"
	case strings.Contains(lower, "linux"):
		info.OS = "Linux"
	}

	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.DeviceType = "tablet"
	case strings.Contains(lower, "mobi") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone"):
		info.DeviceType = "mobile"
	}

	return info
}
