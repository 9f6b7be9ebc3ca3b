package nurse

import "context"

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	CreateForUser(ctx context.Context, userID, fullName string) (Profile, error)
}

// Service exposes business-level nurse lookups and onboarding.
type Service struct {
	repo ProfileStore
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileStore) *Service {
	return &Service{repo: repo}
}

// ProvisionForUser creates the pending profile backing a nurse account.
func (s *Service) ProvisionForUser(ctx context.Context, userID, fullName string) error {
	_, err := s.repo.CreateForUser(ctx, userID, fullName)
	return err
}

// GetByID returns the nurse profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit nurse profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}
