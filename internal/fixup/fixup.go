// Package fixup normalizes outbounds before they reach the engine. Every
// rule is idempotent: applying Apply twice equals applying it once.
package fixup

import (
	"strings"

	"github.com/samber/lo"

	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// User agents picked to match the uTLS fingerprint, so the websocket upgrade
// and the TLS hello claim the same browser.
const (
	uaChrome  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	uaFirefox = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0"
	uaSafari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaIOS     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaEdge    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0"
	uaAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"
)

// UserAgent returns the browser user agent matching a uTLS fingerprint.
func UserAgent(fingerprint string) string {
	switch strings.ToLower(fingerprint) {
	case "firefox":
		return uaFirefox
	case "safari":
		return uaSafari
	case "ios":
		return uaIOS
	case "edge":
		return uaEdge
	case "android":
		return uaAndroid
	default:
		return uaChrome
	}
}

// Apply rewrites o in place and returns it.
func Apply(o *model.Outbound) *model.Outbound {
	if o == nil {
		return nil
	}

	o.Interval = withUnit(o.Interval)
	o.IdleTimeout = withUnit(o.IdleTimeout)
	o.HopInterval = withUnit(o.HopInterval)
	o.IdleSessionCheckInterval = withUnit(o.IdleSessionCheckInterval)
	o.IdleSessionTimeout = withUnit(o.IdleSessionTimeout)

	if strings.TrimSpace(o.Flow) == "" {
		o.Flow = ""
	}

	if o.Type == model.TypeURLTest {
		downgrade(o)
	}
	if o.Type == model.TypeSelector {
		if len(o.Outbounds) == 0 {
			o.Outbounds = []string{model.TagDirect}
		}
		if o.Default != "" && !lo.Contains(o.Outbounds, o.Default) {
			o.Default = o.Outbounds[0]
		}
	}

	if t := o.Transport; t != nil {
		t.IdleTimeout = withUnit(t.IdleTimeout)
		t.PingTimeout = withUnit(t.PingTimeout)
		if t.Type == model.TransportWS || t.Type == model.TransportHTTPUpgrade {
			fixWebSocket(o, t)
		}
	}
	return o
}

// downgrade turns a url-test group into a selector over the same members.
// The engine's url-test reacts badly to interface changes.
func downgrade(o *model.Outbound) {
	o.Type = model.TypeSelector
	o.URL = ""
	o.Interval = ""
	o.Tolerance = 0
	o.IdleTimeout = ""
	if len(o.Outbounds) > 0 {
		o.Default = o.Outbounds[0]
	}
}

func fixWebSocket(o *model.Outbound, t *model.Transport) {
	if t.Type == model.TransportWS {
		if clean, ed := parser.SplitEarlyData(t.Path); ed > 0 || clean != t.Path {
			t.Path = clean
			if t.MaxEarlyData == 0 {
				t.MaxEarlyData = ed
			}
		}
		if t.MaxEarlyData > 0 && t.EarlyDataHeaderName == "" {
			t.EarlyDataHeaderName = model.EarlyDataHeader
		}
	}

	host := ""
	if len(t.Host) > 0 {
		host = t.Host[0]
	}
	if host == "" {
		host = t.Headers.Get("Host")
	}
	if host == "" && o.TLS != nil {
		host = o.TLS.ServerName
	}
	if host == "" {
		host = o.Server
	}

	if t.Headers == nil {
		t.Headers = model.Headers{}
	}
	if t.Type == model.TransportHTTPUpgrade {
		if len(t.Host) == 0 && host != "" {
			t.Host = model.Listable{host}
		}
	} else if !t.Headers.Has("Host") && host != "" {
		t.Headers["Host"] = model.Listable{host}
	}
	if !t.Headers.Has("User-Agent") {
		t.Headers["User-Agent"] = model.Listable{UserAgent(o.TLS.Fingerprint())}
	}
}

// withUnit appends "s" to a bare number.
func withUnit(d model.Duration) model.Duration {
	if d == "" || d.HasUnit() {
		return d
	}
	return d + "s"
}
