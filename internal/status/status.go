// Package status formats the device status document and its parts for the
// HTTP and MQTT boundaries.
package status

import (
	"fmt"
	"time"

	"github.com/sweeney/iot-module/internal/param"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Summary returns a one-line description such as "connected (wifi MyNet)".
func (n NetworkInfo) Summary() string {
	s := n.Status
	if n.Type != "" {
		if n.SSID != "" {
			return fmt.Sprintf("%s (%s %s)", s, n.Type, n.SSID)
		}
		return fmt.Sprintf("%s (%s)", s, n.Type)
	}
	return s
}

// FormatUptime formats d like "69 days 16:42:34". The day part is omitted
// below one day.
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	seconds := total % 60
	minutes := total / 60 % 60
	hours := total / 3600 % 24
	days := total / 86400

	hms := fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	if days > 0 {
		return fmt.Sprintf("%d days %s", days, hms)
	}
	return hms
}

// Document returns {"State":{...},"Settings":{...}} with each inner object
// in store order.
func Document(state, settings *param.Store) []byte {
	buf := make([]byte, 0, 64+(state.Len()+settings.Len())*32)
	buf = append(buf, `{"State":`...)
	buf = state.AppendJSON(buf)
	buf = append(buf, `,"Settings":`...)
	buf = settings.AppendJSON(buf)
	return append(buf, '}')
}
