package antispam

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// thresholdsKVKey is where the threshold blob lives in the external
// settings store. The blob format is owned by this package; the store
// treats it as opaque.
const thresholdsKVKey = "antispam_thresholds"

// Thresholds is the closed set of runtime-tunable detection knobs. Window
// fields persist as milliseconds, matching the external configuration
// namespace.
type Thresholds struct {
	FloodEnabled             bool    `json:"floodEnabled"`
	FloodMaxIdentical        int     `json:"floodMaxIdentical"`
	FloodSimilarityThreshold float64 `json:"floodSimilarityThreshold"`
	FloodTimeWindowMS        int64   `json:"floodTimeWindow"`

	LinkSpamEnabled          bool  `json:"linkSpamEnabled"`
	LinkSpamMaxLinks         int   `json:"linkSpamMaxLinks"`
	LinkSpamMaxLinksInWindow int   `json:"linkSpamMaxLinksInWindow"`
	LinkSpamTimeWindowMS     int64 `json:"linkSpamTimeWindow"`

	RapidFireEnabled      bool  `json:"rapidFireEnabled"`
	RapidFireMaxMessages  int   `json:"rapidFireMaxMessages"`
	RapidFireTimeWindowMS int64 `json:"rapidFireTimeWindow"`

	AutoMuteEnabled bool `json:"autoMuteEnabled"`
	NotifyAdmins    bool `json:"notifyAdmins"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		FloodEnabled:             true,
		FloodMaxIdentical:        3,
		FloodSimilarityThreshold: 0.85,
		FloodTimeWindowMS:        60_000,

		LinkSpamEnabled:          true,
		LinkSpamMaxLinks:         3,
		LinkSpamMaxLinksInWindow: 5,
		LinkSpamTimeWindowMS:     60_000,

		RapidFireEnabled:      true,
		RapidFireMaxMessages:  5,
		RapidFireTimeWindowMS: 10_000,

		AutoMuteEnabled: true,
		NotifyAdmins:    true,
	}
}

func (t Thresholds) FloodWindow() time.Duration {
	return time.Duration(t.FloodTimeWindowMS) * time.Millisecond
}

func (t Thresholds) LinkSpamWindow() time.Duration {
	return time.Duration(t.LinkSpamTimeWindowMS) * time.Millisecond
}

func (t Thresholds) RapidFireWindow() time.Duration {
	return time.Duration(t.RapidFireTimeWindowMS) * time.Millisecond
}

// kvStore is the slice of the settings store the threshold service needs.
type kvStore interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

// ThresholdService caches the runtime thresholds in memory behind an
// atomic pointer. Reads happen on every checked message; writes only on
// admin operations, which also persist the blob externally. Writers are
// serialized by updateMutex so concurrent updates cannot lose each other's
// read-copy-store; readers never touch the mutex.
type ThresholdService struct {
	store       kvStore
	current     atomic.Pointer[Thresholds]
	updateMutex sync.Mutex
	logger      *log.Entry
}

func NewThresholdService(store kvStore) *ThresholdService {
	s := &ThresholdService{
		store:  store,
		logger: log.WithField("object", "ThresholdService"),
	}
	defaults := DefaultThresholds()
	s.current.Store(&defaults)
	return s
}

// Load refreshes the cache from the settings store. A missing blob keeps
// the defaults; a corrupt blob is reported and ignored.
func (s *ThresholdService) Load(ctx context.Context) error {
	blob, err := s.store.GetKV(ctx, thresholdsKVKey)
	if err != nil {
		return err
	}
	if blob == "" {
		return nil
	}
	loaded := DefaultThresholds()
	if err := json.Unmarshal([]byte(blob), &loaded); err != nil {
		s.logger.WithError(err).Error("corrupt thresholds blob, keeping current")
		return nil
	}
	s.current.Store(&loaded)
	return nil
}

// Current returns the active threshold snapshot. The returned value is a
// copy; mutations require Update.
func (s *ThresholdService) Current() Thresholds {
	return *s.current.Load()
}

// Update validates a single key change, persists the resulting blob, and
// only then swaps the snapshot. It returns false for unknown keys,
// unparsable values, or a persistence failure; on failure the active
// snapshot stays untouched, so a reported success always survives a
// restart.
func (s *ThresholdService) Update(ctx context.Context, key, value string) bool {
	s.updateMutex.Lock()
	defer s.updateMutex.Unlock()

	next := s.Current()
	if !applyThreshold(&next, key, value) {
		s.logger.WithField("key", key).WithField("value", value).Warn("rejected config update")
		return false
	}

	blob, err := json.Marshal(next)
	if err != nil {
		s.logger.WithError(err).Error("marshal thresholds")
		return false
	}
	if err := s.store.SetKV(ctx, thresholdsKVKey, string(blob)); err != nil {
		s.logger.WithError(err).Error("persist thresholds")
		return false
	}
	s.current.Store(&next)
	return true
}

func applyThreshold(t *Thresholds, key, value string) bool {
	parseBool := func(dst *bool) bool {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		*dst = v
		return true
	}
	parseCount := func(dst *int) bool {
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 {
			return false
		}
		*dst = v
		return true
	}
	parseWindow := func(dst *int64) bool {
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < 1 {
			return false
		}
		*dst = v
		return true
	}

	switch key {
	case "floodEnabled":
		return parseBool(&t.FloodEnabled)
	case "floodMaxIdentical":
		return parseCount(&t.FloodMaxIdentical)
	case "floodSimilarityThreshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0.5 || v > 1.0 {
			return false
		}
		t.FloodSimilarityThreshold = v
		return true
	case "floodTimeWindow":
		return parseWindow(&t.FloodTimeWindowMS)
	case "linkSpamEnabled":
		return parseBool(&t.LinkSpamEnabled)
	case "linkSpamMaxLinks":
		return parseCount(&t.LinkSpamMaxLinks)
	case "linkSpamMaxLinksInWindow":
		return parseCount(&t.LinkSpamMaxLinksInWindow)
	case "linkSpamTimeWindow":
		return parseWindow(&t.LinkSpamTimeWindowMS)
	case "rapidFireEnabled":
		return parseBool(&t.RapidFireEnabled)
	case "rapidFireMaxMessages":
		return parseCount(&t.RapidFireMaxMessages)
	case "rapidFireTimeWindow":
		return parseWindow(&t.RapidFireTimeWindowMS)
	case "autoMuteEnabled":
		return parseBool(&t.AutoMuteEnabled)
	case "notifyAdmins":
		return parseBool(&t.NotifyAdmins)
	}
	return false
}
