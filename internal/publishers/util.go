package publishers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"subforge/internal/extract"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// Render produces the bytes a publisher writes. params["format"] selects
// "json" (the engine document, default) or "links" (share links of every
// proxy outbound, base64 wrapped when params["base64"] is true).
func Render(cfg *model.SynthesizedConfig, params map[string]interface{}) ([]byte, error) {
	switch format := String(params, "format", "json"); format {
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	case "links":
		return renderLinks(cfg, Bool(params, "base64")), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func renderLinks(cfg *model.SynthesizedConfig, b64 bool) []byte {
	var lines []string
	for _, o := range cfg.Outbounds {
		if !o.IsProxy() {
			continue
		}
		c := o.Clone()
		if !extract.HasFlag(c.Tag) {
			if flag := extract.RegionTag(c.Tag); flag != "" && flag != extract.GlobeTag {
				c.Tag = flag + " " + c.Tag
			}
		}
		link := parser.ToURI(c)
		if link == "" {
			logger.Log.Debugf("⚠️ No share link format for %s (%s)", o.Tag, o.Type)
			continue
		}
		lines = append(lines, link)
	}
	text := strings.Join(lines, "\n")
	if b64 {
		return []byte(base64.StdEncoding.EncodeToString([]byte(text)))
	}
	return []byte(text)
}

// String reads a string param, falling back to def.
func String(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bool accepts YAML booleans and the strings and integers command-line
// overrides produce.
func Bool(params map[string]interface{}, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func Int(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
