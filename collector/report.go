package collector

import (
	"regexp"
	"strings"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

var (
	mobileAgents = regexp.MustCompile(`mobile|android|iphone`)
	tabletAgents = regexp.MustCompile(`tablet|ipad`)
)

// ClassifyDevice derives the device type from viewport width and user
// agent. Width wins over the user agent for small viewports.
func ClassifyDevice(width int, userAgent string) webvitals.DeviceType {
	ua := strings.ToLower(userAgent)
	switch {
	case width <= 768 || mobileAgents.MatchString(ua):
		return webvitals.Mobile
	case width <= 1024 || tabletAgents.MatchString(ua):
		return webvitals.Tablet
	default:
		return webvitals.Desktop
	}
}

// ConnectionType returns the effective connection type, falling back to
// the raw type and finally to "unknown".
func ConnectionType(c *Connection) string {
	if c == nil {
		return "unknown"
	}
	if c.EffectiveType != "" {
		return c.EffectiveType
	}
	if c.Type != "" {
		return c.Type
	}
	return "unknown"
}

// GenerateReport snapshots the collected metrics together with the
// environment of the page. It has no side effects.
func (m *Monitor) GenerateReport() *webvitals.Report {
	var env Environment
	if m.platform != nil {
		env = m.platform.Environment()
	}
	device := webvitals.Desktop
	if m.platform != nil {
		device = ClassifyDevice(env.ViewportWidth, env.UserAgent)
	}
	return &webvitals.Report{
		URL:            env.URL,
		Timestamp:      m.now().UnixMilli(),
		Metrics:        m.store.Values(),
		DeviceType:     device,
		ConnectionType: ConnectionType(env.Connection),
		UserAgent:      env.UserAgent,
	}
}
