package subscription

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

type attempt struct {
	name string
	fn   func(string) (*model.Config, error)
}

var structured = []attempt{
	{"native", parseNative},
	{"rule-group yaml", parseClash},
}

// Parse detects the format of a subscription body and converts it into a
// Config. Formats are tried in a fixed order: native JSON, rule-group YAML,
// the same two after base64 decoding, then one link per line. The first
// attempt producing at least one outbound wins.
func Parse(content string) (*model.Config, error) {
	content = strings.TrimSpace(strings.TrimPrefix(content, "\ufeff"))
	if content == "" {
		return nil, ErrEmpty
	}

	var errs []error
	try := func(a attempt, text, label string) (*model.Config, bool) {
		cfg, err := run(a, text)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%w", label, err))
			return nil, false
		}
		return cfg, true
	}

	for _, a := range structured {
		if cfg, ok := try(a, content, ""); ok {
			return cfg, nil
		}
	}
	decoded, isBlob := decodeBlob(content)
	if isBlob {
		for _, a := range structured {
			if cfg, ok := try(a, decoded, "base64 "); ok {
				return cfg, nil
			}
		}
	}

	links := attempt{"links", parseLinks}
	if cfg, ok := try(links, content, ""); ok {
		return cfg, nil
	}
	if isBlob {
		if cfg, ok := try(links, decoded, "base64 "); ok {
			return cfg, nil
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrNoOutbounds, errors.Join(errs...))
}

// run executes one attempt; a panic fails that attempt only.
func run(a attempt, content string) (cfg *model.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			cfg, err = nil, fmt.Errorf("%s: panic: %v", a.name, r)
		}
	}()
	cfg, err = a.fn(content)
	if err == nil && (cfg == nil || len(cfg.Outbounds) == 0) {
		err = ErrNoOutbounds
	}
	if err != nil {
		logger.Log.Debugf("Parse attempt %s failed: %v", a.name, err)
		return nil, fmt.Errorf("%s: %w", a.name, err)
	}
	return cfg, nil
}

// decodeBlob base64-decodes the whole body, ignoring line breaks.
func decodeBlob(content string) (string, bool) {
	compact := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, content)
	decoded, err := parser.DecodeBase64(compact)
	if err != nil || !utf8.ValidString(decoded) {
		return "", false
	}
	decoded = strings.TrimSpace(decoded)
	return decoded, decoded != ""
}

func parseLinks(content string) (*model.Config, error) {
	cfg := &model.Config{}
	for _, link := range parser.ExtractLinks(content) {
		o, err := parser.Parse(link)
		if err != nil {
			logger.Log.Debugf("Skipping link: %v", err)
			continue
		}
		cfg.Outbounds = append(cfg.Outbounds, o)
	}
	if len(cfg.Outbounds) == 0 {
		return nil, ErrNoOutbounds
	}
	uniqueTags(cfg.Outbounds)
	cfg.Outbounds = append(cfg.Outbounds, Sentinels()...)
	return cfg, nil
}

// Sentinels returns fresh direct, block and dns outbounds.
func Sentinels() []*model.Outbound {
	return []*model.Outbound{
		{Type: model.TypeDirect, Tag: model.TagDirect},
		{Type: model.TypeBlock, Tag: model.TagBlock},
		{Type: model.TypeDNS, Tag: model.TagDNS},
	}
}

// uniqueTags renames repeated tags to "tag (2)", "tag (3)" and so on.
// Reserved sentinel tags are treated as taken.
func uniqueTags(outbounds []*model.Outbound) {
	taken := map[string]bool{
		model.TagDirect: true,
		model.TagBlock:  true,
		model.TagDNS:    true,
		model.TagProxy:  true,
	}
	for _, o := range outbounds {
		if !taken[o.Tag] {
			taken[o.Tag] = true
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s (%d)", o.Tag, n)
			if !taken[candidate] {
				o.Tag = candidate
				taken[candidate] = true
				break
			}
		}
	}
}
