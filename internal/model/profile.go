package model

import "time"

type ProfileType string

const (
	ProfileSubscription ProfileType = "subscription"
	ProfileImported     ProfileType = "imported"
	ProfileLocal        ProfileType = "local"
)

type UpdateStatus string

const (
	StatusIdle     UpdateStatus = "idle"
	StatusUpdating UpdateStatus = "updating"
	StatusSuccess  UpdateStatus = "success"
	StatusFailed   UpdateStatus = "failed"
)

// Profile is one saved subscription or imported document.
type Profile struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         ProfileType  `json:"type"`
	SourceURL    string       `json:"source_url,omitempty"`
	Enabled      bool         `json:"enabled"`
	LastUpdated  time.Time    `json:"last_updated"`
	UpdateStatus UpdateStatus `json:"update_status"`
	LastError    string       `json:"last_error,omitempty"`
}

// ProxyNode is the flattened, UI and runtime facing view of one proxy outbound.
type ProxyNode struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Protocol        string `json:"protocol"`
	Group           string `json:"group,omitempty"`
	RegionTag       string `json:"region_tag,omitempty"`
	LatencyMs       *int64 `json:"latency_ms,omitempty"`
	SourceProfileID string `json:"source_profile_id"`
}

// DisplayName prefixes the region tag, if any.
func (n ProxyNode) DisplayName() string {
	if n.RegionTag == "" {
		return n.Name
	}
	return n.RegionTag + " " + n.Name
}
