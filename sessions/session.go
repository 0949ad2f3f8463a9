/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sessions

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Group is a household. Members of one group never draw each other.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Participant is a person taking part in a draw.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GroupID string `json:"houseId"`
	Claimed bool   `json:"claimed"`
}

// Pairing is a directed giver -> receiver edge.
type Pairing struct {
	GiverID    string `json:"giverId"`
	ReceiverID string `json:"receiverId"`
}

// Session is the full server-side record, pairings included.
type Session struct {
	ID           string
	Groups       []Group
	Participants []Participant
	Pairings     []Pairing
	Complete     bool
	CreatedAt    time.Time
	LastActive   time.Time
}

// View is the public projection of a session. It never carries pairings.
type View struct {
	ID           string        `json:"id"`
	Groups       []Group       `json:"houses"`
	Participants []Participant `json:"people"`
	Complete     bool          `json:"isDrawComplete"`
}

// CreateRequest is the input to Store.Create.
type CreateRequest struct {
	Groups       []Group       `json:"houses"`
	Participants []Participant `json:"people"`
}

func (s *Session) clone() Session {
	c := *s
	c.Groups = slices.Clone(s.Groups)
	c.Participants = slices.Clone(s.Participants)
	c.Pairings = slices.Clone(s.Pairings)
	return c
}

func (s *Session) view() View {
	return View{
		ID:           s.ID,
		Groups:       slices.Clone(s.Groups),
		Participants: slices.Clone(s.Participants),
		Complete:     s.Complete,
	}
}

func (s *Session) participant(id string) (int, bool) {
	for i, p := range s.Participants {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *Session) allClaimed() bool {
	for _, p := range s.Participants {
		if !p.Claimed {
			return false
		}
	}
	return true
}

// normalize validates req and returns copies of its groups and participants,
// with every participant unclaimed and missing participant ids filled in.
func (req CreateRequest) normalize() ([]Group, []Participant, error) {
	verr := &ValidationError{}

	if len(req.Groups) == 0 {
		verr.add("houses", "at least one house is required")
	}
	if len(req.Participants) < 2 {
		verr.add("people", "at least two people are required")
	}

	groups := slices.Clone(req.Groups)
	known := make(map[string]bool, len(groups))
	for i, g := range groups {
		field := fmt.Sprintf("houses[%d].id", i)
		switch {
		case g.ID == "":
			verr.add(field, "required")
		case known[g.ID]:
			verr.add(field, "duplicate house id")
		}
		known[g.ID] = true
	}

	people := make([]Participant, len(req.Participants))
	seen := make(map[string]bool, len(people))
	for i, p := range req.Participants {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.Claimed = false

		if p.Name == "" {
			verr.add(fmt.Sprintf("people[%d].name", i), "required")
		}
		if seen[p.ID] {
			verr.add(fmt.Sprintf("people[%d].id", i), "duplicate person id")
		}
		if !known[p.GroupID] || p.GroupID == "" {
			verr.add(fmt.Sprintf("people[%d].houseId", i), "unknown house")
		}

		seen[p.ID] = true
		people[i] = p
	}

	if verr.HasErrors() {
		return nil, nil, verr
	}

	return groups, people, nil
}
