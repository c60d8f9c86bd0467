package store

import (
	"sync"

	"github.com/vegafield/lora-gateway-bridge/internal/logger"
)

// GatewayEnrollment is the singleton on-disk record of this process's
// enrollment with the cloud service.
type GatewayEnrollment struct {
	GatewayID   string  `json:"gateway_id"`
	IsEnrolled  bool    `json:"is_enrolled"`
	EnrolledAt  *string `json:"enrolled_at"`
}

// GatewayStore guards the gateway enrollment file.
type GatewayStore struct {
	mu   sync.RWMutex
	path string
	rec  GatewayEnrollment
}

// NewGatewayStore loads the enrollment record from path, falling back to
// the unenrolled zero state on a read error.
func NewGatewayStore(path string) *GatewayStore {
	s := &GatewayStore{path: path}
	if err := readJSON(path, &s.rec); err != nil {
		logger.Global().Warn("gateway store: falling back to unenrolled state", "error", err)
		s.rec = GatewayEnrollment{}
	}
	return s
}

// Get returns the current enrollment record without side effects.
func (s *GatewayStore) Get() GatewayEnrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// Enroll persists gatewayID as enrolled with enrolledAt as its ISO-8601 UTC
// timestamp.
func (s *GatewayStore) Enroll(gatewayID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := nowUTC()
	s.rec = GatewayEnrollment{GatewayID: gatewayID, IsEnrolled: true, EnrolledAt: &ts}
	if err := writeJSONAtomic(s.path, s.rec); err != nil {
		logger.Global().Error("gateway store: persist enrollment failed", "error", err)
		return err
	}
	return nil
}

// Unenroll persists the empty, unenrolled state.
func (s *GatewayStore) Unenroll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = GatewayEnrollment{}
	if err := writeJSONAtomic(s.path, s.rec); err != nil {
		logger.Global().Error("gateway store: persist unenrollment failed", "error", err)
		return err
	}
	return nil
}
