package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
)

// Proposal is a skill_propose submission awaiting human review (spec §4.2
// proposal_{list,review}).
type Proposal struct {
	ID        string
	SessionID string
	Name      string
	Content   string
	Status    string // "pending" | "approved" | "rejected"
	Created   time.Time
}

// ProposalStore holds pending skill proposals in process memory — human
// review is out of this host's scope (it happens through whatever surface
// calls proposal_review), so no persistent backend is required.
type ProposalStore struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
}

func NewProposalStore() *ProposalStore {
	return &ProposalStore{proposals: make(map[string]*Proposal)}
}

func (s *ProposalStore) Create(sessionID, name, content string) Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Proposal{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      name,
		Content:   content,
		Status:    "pending",
		Created:   time.Now().UTC(),
	}
	s.proposals[p.ID] = p
	return *p
}

func (s *ProposalStore) List() []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, *p)
	}
	return out
}

func (s *ProposalStore) Review(id string, approve bool) (Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	if approve {
		p.Status = "approved"
	} else {
		p.Status = "rejected"
	}
	return *p, true
}

func (d Deps) proposalList(_ context.Context, _ dispatcher.Context, _ map[string]any) (map[string]any, error) {
	if d.Proposals == nil {
		return map[string]any{"proposals": []map[string]any{}}, nil
	}
	proposals := d.Proposals.List()
	out := make([]map[string]any, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, map[string]any{
			"id": p.ID, "name": p.Name, "status": p.Status, "created": p.Created,
		})
	}
	return map[string]any{"proposals": out}, nil
}

func (d Deps) proposalReview(_ context.Context, _ dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Proposals == nil {
		return nil, fmt.Errorf("proposal_review: no proposal store configured")
	}
	id := str(payload, "proposal_id")
	approve := boolean(payload, "approve")
	p, ok := d.Proposals.Review(id, approve)
	if !ok {
		return nil, fmt.Errorf("proposal_review: unknown proposal %q", id)
	}
	return map[string]any{"id": p.ID, "status": p.Status}, nil
}
