// Package history keeps per-node probe results in sqlite.
package history

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"subforge/internal/logger"
	"subforge/internal/model"
)

// Alpha is the weight of the latest successful sample in SmoothedMs.
const Alpha = 0.2

type History struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *History {
	return &History{db: db, now: time.Now}
}

// Record stores one probe outcome. latencyMs <= 0 counts as a failure and
// leaves the smoothed value alone.
func (h *History) Record(profileID, nodeID string, latencyMs int64) (model.LatencyRecord, error) {
	var rec model.LatencyRecord
	err := h.db.Where("node_id = ?", nodeID).Limit(1).Find(&rec).Error
	if err != nil {
		return rec, fmt.Errorf("load history for %s: %w", nodeID, err)
	}
	if rec.NodeID == "" {
		rec = model.LatencyRecord{NodeID: nodeID}
	}
	if profileID != "" {
		rec.ProfileID = profileID
	}

	if latencyMs > 0 {
		if rec.SampleCount == 0 || rec.SmoothedMs <= 0 {
			rec.SmoothedMs = float64(latencyMs)
		} else {
			rec.SmoothedMs = rec.SmoothedMs*(1-Alpha) + float64(latencyMs)*Alpha
		}
		rec.SampleCount++
		rec.LastMs = latencyMs
	} else {
		rec.FailCount++
		rec.LastMs = -1
	}
	rec.LastTested = h.now()

	if err := h.db.Save(&rec).Error; err != nil {
		logger.Log.Errorf("Failed to update history for node %s: %v", nodeID, err)
		return rec, err
	}
	return rec, nil
}

// Get returns the records for ids, keyed by node id. Missing ids are absent.
func (h *History) Get(ids []string) (map[string]model.LatencyRecord, error) {
	out := make(map[string]model.LatencyRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []model.LatencyRecord
	if err := h.db.Where("node_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, r := range recs {
		out[r.NodeID] = r
	}
	return out, nil
}

// Clear forgets measured values for ids; the rows themselves stay.
func (h *History) Clear(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return h.db.Model(&model.LatencyRecord{}).Where("node_id IN ?", ids).Updates(map[string]interface{}{
		"last_ms":      0,
		"smoothed_ms":  0,
		"sample_count": 0,
		"fail_count":   0,
		"last_tested":  time.Time{},
	}).Error
}

// Prune deletes every record whose node is not in valid.
func (h *History) Prune(valid []string) (int64, error) {
	q := h.db
	if len(valid) > 0 {
		q = q.Where("node_id NOT IN ?", valid)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&model.LatencyRecord{})
	return res.RowsAffected, res.Error
}

// PruneProfile deletes the records of profileID whose node is not in valid.
func (h *History) PruneProfile(profileID string, valid []string) (int64, error) {
	q := h.db.Where("profile_id = ?", profileID)
	if len(valid) > 0 {
		q = q.Where("node_id NOT IN ?", valid)
	}
	res := q.Delete(&model.LatencyRecord{})
	return res.RowsAffected, res.Error
}

// DeleteProfile drops every record of one profile.
func (h *History) DeleteProfile(profileID string) error {
	if profileID == "" {
		return errors.New("empty profile id")
	}
	return h.db.Where("profile_id = ?", profileID).Delete(&model.LatencyRecord{}).Error
}

// Latency is the value shown for a node: the last measurement, -1 for a
// failed probe, nil when never tested or cleared.
func Latency(rec model.LatencyRecord, ok bool) *int64 {
	if !ok || rec.LastTested.IsZero() {
		return nil
	}
	v := rec.LastMs
	return &v
}
