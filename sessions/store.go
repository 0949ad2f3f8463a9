/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package sessions holds draw sessions in memory and runs the claim protocol:
// every participant checks in exactly once, and the draw runs at creation
// or, failing that, when the last participant checks in.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/secretgift/draw"
)

// idBytes gives session ids 96 bits of entropy.
const idBytes = 12

type Options struct {
	// Drawer runs the matching. Defaults to draw.New().
	Drawer *draw.Drawer
	// LazyDraw skips the draw at creation, so the last claim is the only
	// trigger.
	LazyDraw bool
	// OnChange receives the public view after every claim, in claim order.
	// It runs under the session's lock and must not call back into the
	// store. May be nil.
	OnChange func(View)
	// Now defaults to time.Now.
	Now func() time.Time
	// Logf receives one line per session event. May be nil.
	Logf func(format string, args ...any)
}

// entry guards one session. Claims against the same session serialize on mu.
type entry struct {
	mu      sync.Mutex
	session Session
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	drawer   *draw.Drawer
	lazy     bool
	onChange func(View)
	now      func() time.Time
	logf     func(format string, args ...any)
}

func New(opts Options) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		drawer:   opts.Drawer,
		lazy:     opts.LazyDraw,
		onChange: opts.OnChange,
		now:      opts.Now,
		logf:     opts.Logf,
	}
	if s.drawer == nil {
		s.drawer = draw.New()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logf == nil {
		s.logf = func(string, ...any) {}
	}
	if s.onChange == nil {
		s.onChange = func(View) {}
	}
	return s
}

// Create stores a new session and, unless the store is lazy, draws it
// straight away. An infeasible draw still creates the session, incomplete.
func (s *Store) Create(ctx context.Context, req CreateRequest) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	groups, people, err := req.normalize()
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	session := Session{
		Groups:       groups,
		Participants: people,
		CreatedAt:    now,
		LastActive:   now,
	}

	if !s.lazy {
		if err := s.draw(&session); err != nil {
			return Session{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id, err := newID()
		if err != nil {
			return Session{}, err
		}
		if _, exists := s.sessions[id]; !exists {
			session.ID = id
			break
		}
	}

	s.sessions[session.ID] = &entry{session: session}

	s.logf("SESSIONS: Created %s with %d people in %d houses (complete: %t)",
		session.ID, len(people), len(groups), session.Complete)

	return session.clone(), nil
}

// Get returns the public projection of a session.
func (s *Store) Get(ctx context.Context, id string) (View, error) {
	if err := ctx.Err(); err != nil {
		return View{}, err
	}

	e, ok := s.lookup(id)
	if !ok {
		return View{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.session.view(), nil
}

// Claim checks participantID in. The claim that leaves nobody unclaimed
// draws the session if it is not complete yet.
func (s *Store) Claim(ctx context.Context, id, participantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, ok := s.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session := &e.session

	i, ok := session.participant(participantID)
	if !ok {
		return ErrParticipantNotFound
	}
	if session.Participants[i].Claimed {
		return ErrAlreadyClaimed
	}

	session.Participants[i].Claimed = true
	session.LastActive = s.now()

	if !session.Complete && session.allClaimed() {
		if err := s.draw(session); err != nil {
			session.Participants[i].Claimed = false
			return err
		}
		s.logf("SESSIONS: Drew %s on final claim (complete: %t)", id, session.Complete)
	}

	s.logf("SESSIONS: %s claimed in %s", participantID, id)

	s.onChange(session.view())

	return nil
}

// ReceiverFor reveals whom giverID gives to. It does not record the reveal;
// showing it only once is up to the caller.
func (s *Store) ReceiverFor(ctx context.Context, id, giverID string) (Participant, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}

	e, ok := s.lookup(id)
	if !ok {
		return Participant{}, ErrNotAvailable
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session := &e.session
	if !session.Complete {
		return Participant{}, ErrNotAvailable
	}

	for _, pairing := range session.Pairings {
		if pairing.GiverID != giverID {
			continue
		}
		if i, ok := session.participant(pairing.ReceiverID); ok {
			return session.Participants[i], nil
		}
	}

	return Participant{}, ErrNotAvailable
}

// Reap drops sessions idle since before cutoff and returns their ids.
func (s *Store) Reap(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []string
	for id, e := range s.sessions {
		e.mu.Lock()
		last := e.session.LastActive
		e.mu.Unlock()

		if last.Before(cutoff) {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}

	for _, id := range reaped {
		s.logf("SESSIONS: Reaped idle session %s", id)
	}

	return reaped
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	return e, ok
}

// draw replaces the session's pairings with a fresh draw. Callers hold the
// session's lock or own it exclusively.
func (s *Store) draw(session *Session) error {
	people := make([]draw.Person, len(session.Participants))
	for i, p := range session.Participants {
		people[i] = draw.Person{ID: p.ID, GroupID: p.GroupID}
	}

	session.Pairings = nil
	session.Complete = false

	// Every attempt searches exhaustively, so an infeasible draw would only
	// fail after 100 exponential searches.
	if !draw.SpansGroups(people) || !draw.Feasible(people) {
		return nil
	}

	pairs, err := s.drawer.Assign(people)
	if err != nil {
		return fmt.Errorf("draw session %s: %w", session.ID, err)
	}

	session.Pairings = make([]Pairing, len(pairs))
	for i, p := range pairs {
		session.Pairings[i] = Pairing{GiverID: p.GiverID, ReceiverID: p.ReceiverID}
	}
	session.Complete = len(session.Pairings) > 0

	return nil
}

func newID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
