package auth

import (
	"context"
	"errors"
	"fmt"

	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/repo"
)

// UnauthorizedError indicates a missing capability.
type UnauthorizedError struct {
	Capability string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// Actor is a resolved principal: a user id plus the role the directory holds
// for it. The workflow never inspects the role string; it asks the predicates
// below.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Service answers authorization questions from the user directory and the
// configured role taxonomy.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// Resolve looks the actor up in the user directory.
func (s Service) Resolve(ctx context.Context, actorID string) (Actor, error) {
	if actorID == "" {
		return Actor{}, errors.New("actor_id required")
	}
	u, err := s.Repo.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Actor{}, fmt.Errorf("unknown actor %s", actorID)
		}
		return Actor{}, err
	}
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}, nil
}

func (s Service) has(a Actor, capability string) bool {
	if s.Config == nil {
		return false
	}
	return s.Config.RoleHas(a.Role, capability)
}

// CanManage reports whether the actor may act at any workflow step,
// including hard deletes.
func (s Service) CanManage(a Actor) bool {
	return s.has(a, config.CapManage)
}

// CanReview reports whether the actor may request negotiation, approve or
// reject.
func (s Service) CanReview(a Actor) bool {
	return s.has(a, config.CapReview)
}

// CanEditDraft reports whether the actor may mutate the quotation's line
// items: its creator with the edit capability, or any managing role.
func (s Service) CanEditDraft(a Actor, q domain.Quotation) bool {
	if s.CanManage(a) {
		return true
	}
	return q.CreatedBy == a.ID && s.has(a, config.CapEdit)
}

// CanSubmit reports whether the actor may submit the quotation for analysis.
func (s Service) CanSubmit(a Actor, q domain.Quotation) bool {
	if s.CanManage(a) {
		return true
	}
	return q.CreatedBy == a.ID && s.has(a, config.CapSubmit)
}

// CanCreate reports whether the actor may open a new draft.
func (s Service) CanCreate(a Actor) bool {
	return s.CanManage(a) || s.has(a, config.CapEdit)
}

// ReviewerIDs resolves, at call time, every user whose role carries the
// review capability. Never cached: role changes take effect on the next
// dispatch.
func (s Service) ReviewerIDs(ctx context.Context) ([]string, error) {
	if s.Config == nil {
		return nil, errors.New("config not loaded")
	}
	users, err := s.Repo.ListUsers(ctx, s.Config.RolesWith(config.CapReview))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
