// pkg/services/settings.go
package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/utils"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// PolicySchemaVersion is stamped on exported policies. Imports are accepted
// from any version with the same major.
const PolicySchemaVersion = "1.1.0"

// PolicyExport is the envelope written by Export
type PolicyExport struct {
	SchemaVersion string        `json:"schemaVersion"`
	ExportedAt    time.Time     `json:"exportedAt"`
	Policy        config.Policy `json:"policy"`
}

type SettingsService struct {
	mu       sync.RWMutex
	current  config.Policy
	defaults config.Policy
	log      *utils.Logger
}

// NewSettingsService validates the initial policy; an invalid one is a startup error
func NewSettingsService(initial config.Policy, log *utils.Logger) (*SettingsService, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &SettingsService{
		current:  initial.Clone(),
		defaults: initial.Clone(),
		log:      log,
	}, nil
}

// Current returns a copy of the active policy
func (s *SettingsService) Current() config.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies mutate to a copy and swaps it in only if it validates
func (s *SettingsService) Update(mutate func(p *config.Policy)) (config.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	mutate(&next)
	if err := next.Validate(); err != nil {
		s.log.WithFunc().WithError(err).Warn("Rejected policy update")
		return s.current.Clone(), err
	}
	s.current = next
	s.log.WithFunc().Info("Policy updated")
	return next.Clone(), nil
}

// Replace swaps the whole policy
func (s *SettingsService) Replace(p config.Policy) error {
	_, err := s.Update(func(cur *config.Policy) { *cur = p.Clone() })
	return err
}

func (s *SettingsService) Validate(p config.Policy) error {
	return p.Validate()
}

// Reset restores the policy the service was started with
func (s *SettingsService) Reset() config.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.defaults.Clone()
	s.log.WithFunc().Info("Policy reset to startup values")
	return s.current.Clone()
}

func (s *SettingsService) Export() ([]byte, error) {
	envelope := PolicyExport{
		SchemaVersion: PolicySchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Policy:        s.Current(),
	}
	return json.MarshalIndent(envelope, "", "  ")
}

// Import checks schema compatibility, then validates and activates the policy
func (s *SettingsService) Import(data []byte) (config.Policy, error) {
	var envelope PolicyExport
	if err := json.Unmarshal(data, &envelope); err != nil {
		return s.Current(), fmt.Errorf("error parsing policy export: %w", err)
	}

	if err := checkSchemaVersion(envelope.SchemaVersion); err != nil {
		return s.Current(), err
	}

	if err := s.Replace(envelope.Policy); err != nil {
		return s.Current(), err
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"schemaVersion": envelope.SchemaVersion,
		"exportedAt":    envelope.ExportedAt,
	}).Info("Policy imported")
	return s.Current(), nil
}

func checkSchemaVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("policy export has no schema version")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	ours := semver.MustParse(PolicySchemaVersion)
	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0", ours.Major()))
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("incompatible schema version %s (supported: %d.x)", v, ours.Major())
	}
	return nil
}
