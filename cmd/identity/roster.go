package identity

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Roster returns the counterpart set a participant may converse with.
// For a trainer that is the client list; for a client it is their trainer(s).
type Roster interface {
	Counterparts(ctx context.Context, ownerID string) ([]Participant, error)
}

// Contains reports whether id is in the set.
func Contains(set []Participant, id string) bool {
	for _, p := range set {
		if p.ID == id {
			return true
		}
	}
	return false
}

// StaticRoster is an in-memory Roster, symmetric by construction.
// It backs dev mode and tests; production uses PostgresRoster.
type StaticRoster struct {
	mu     sync.RWMutex
	people map[string]Participant
	links  map[string]map[string]struct{}
}

// NewStaticRoster constructs an empty roster.
func NewStaticRoster() *StaticRoster {
	return &StaticRoster{
		people: make(map[string]Participant),
		links:  make(map[string]map[string]struct{}),
	}
}

// Assign links a trainer to clients (both directions).
func (r *StaticRoster) Assign(trainer Participant, clients ...Participant) error {
	if err := validateParticipant(trainer); err != nil {
		return err
	}
	for _, c := range clients {
		if err := validateParticipant(c); err != nil {
			return err
		}
		if c.ID == trainer.ID {
			return OpError{Op: "identity.StaticRoster.Assign", Kind: ErrInvalidInput, Msg: "trainer cannot be their own client"}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.people[trainer.ID] = trainer
	for _, c := range clients {
		r.people[c.ID] = c
		r.link(trainer.ID, c.ID)
		r.link(c.ID, trainer.ID)
	}
	return nil
}

func (r *StaticRoster) link(a, b string) {
	set := r.links[a]
	if set == nil {
		set = make(map[string]struct{})
		r.links[a] = set
	}
	set[b] = struct{}{}
}

// Counterparts returns the linked participants ordered by display name, then id.
func (r *StaticRoster) Counterparts(ctx context.Context, ownerID string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.links[ownerID]
	out := make([]Participant, 0, len(set))
	for id := range set {
		out = append(out, r.people[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Lookup returns a known participant.
func (r *StaticRoster) Lookup(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.people[id]
	return p, ok
}

// RosterFile is the YAML seed format:
//
//	trainers:
//	  - id: t-1
//	    display_name: Coach Kim
//	    clients:
//	      - id: c-1
//	        display_name: Ana
type RosterFile struct {
	Trainers []struct {
		Participant `yaml:",inline"`
		Clients     []Participant `yaml:"clients"`
	} `yaml:"trainers"`
}

// LoadStaticRoster reads a YAML roster file.
func LoadStaticRoster(path string) (*StaticRoster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	return ParseStaticRoster(data)
}

// ParseStaticRoster decodes YAML roster data.
func ParseStaticRoster(data []byte) (*StaticRoster, error) {
	var f RosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, OpError{Op: "identity.ParseStaticRoster", Kind: ErrInvalidInput, Err: err}
	}

	r := NewStaticRoster()
	for _, t := range f.Trainers {
		trainer := normalizeParticipant(t.Participant)
		clients := make([]Participant, 0, len(t.Clients))
		for _, c := range t.Clients {
			clients = append(clients, normalizeParticipant(c))
		}
		if err := r.Assign(trainer, clients...); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func normalizeParticipant(p Participant) Participant {
	return Participant{
		ID:          NormalizeParticipantID(p.ID),
		DisplayName: NormalizeDisplayName(p.DisplayName),
	}
}

func validateParticipant(p Participant) error {
	if !ValidParticipantID(p.ID) {
		return OpError{Op: "identity.validateParticipant", Kind: ErrInvalidInput, Msg: fmt.Sprintf("bad participant id %q", p.ID)}
	}
	return nil
}
