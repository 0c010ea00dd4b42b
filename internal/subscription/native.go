package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/muhammadmuzzammil1998/jsonc"

	"subforge/internal/model"
)

type nativeDoc struct {
	Outbounds []*model.Outbound `json:"outbounds"`
}

// parseNative reads a sing-box document: a full config, a bare outbound
// list, or either with // and /* */ comments.
func parseNative(content string) (*model.Config, error) {
	data := bytes.TrimSpace(jsonc.ToJSON([]byte(content)))
	if len(data) == 0 || (data[0] != '{' && data[0] != '[') {
		return nil, fmt.Errorf("not a json document")
	}

	var outbounds []*model.Outbound
	if data[0] == '[' {
		if err := json.Unmarshal(data, &outbounds); err != nil {
			return nil, err
		}
	} else {
		var doc nativeDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		outbounds = doc.Outbounds
	}

	cfg := &model.Config{}
	for _, o := range outbounds {
		if o == nil || o.Type == "" {
			continue
		}
		if o.Tag == "" {
			o.Tag = fmt.Sprintf("%s-%s-%d", o.Type, o.Server, o.ServerPort)
		}
		cfg.Outbounds = append(cfg.Outbounds, o)
	}
	if len(cfg.Outbounds) == 0 {
		return nil, ErrNoOutbounds
	}
	return cfg, nil
}
