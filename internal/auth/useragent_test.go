package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want DeviceInfo
	}{
		{
			name: "chrome on windows",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			want: DeviceInfo{Browser: "Chrome", OS: "Windows", DeviceType: "desktop"},
		},
		{
			name: "safari on iphone",
			ua:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1",
			want: DeviceInfo{Browser: "Safari", OS: "iOS", DeviceType: "mobile"},
		},
		{
			name: "firefox on linux",
			ua:   "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			want: DeviceInfo{Browser: "Firefox", OS: "Linux", DeviceType: "desktop"},
		},
		{
			name: "edge on windows",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0",
			want: DeviceInfo{Browser: "Edge", OS: "Windows", DeviceType: "desktop"},
		},
		{
			name: "curl",
			ua:   "curl/8.4.0",
			want: DeviceInfo{Browser: "curl", OS: "Unknown", DeviceType: "desktop"},
		},
		{
			name: "ipad",
			ua:   "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Safari/604.1",
			want: DeviceInfo{Browser: "Safari", OS: "iOS", DeviceType: "tablet"},
		},
		{
			name: "empty",
			ua:   "",
			want: DeviceInfo{Browser: "Unknown", OS: "Unknown", DeviceType: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseUserAgent(tt.ua))
		})
	}
}
