/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package draw pairs every participant with a gift receiver.
//
// Nobody draws themselves, nobody draws a member of their own group, and
// every participant is drawn by exactly one giver. The search is a
// randomized depth-first backtrack that reshuffles its candidates at every
// decision point and restarts up to MaxAttempts times.
package draw

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// MaxAttempts is the number of randomized restarts before a draw is
// reported as infeasible.
const MaxAttempts = 100

// ErrInvariant is returned when a finished draw fails verification. It
// signals a bug, not an infeasible input.
var ErrInvariant = errors.New("draw: invariant violated")

// Person is a participant as seen by the matching engine.
type Person struct {
	ID      string
	GroupID string
}

// Pair is a directed giver -> receiver edge.
type Pair struct {
	GiverID    string
	ReceiverID string
}

// ShuffleFunc has the signature of rand.Shuffle.
type ShuffleFunc func(n int, swap func(i, j int))

type Drawer struct {
	shuffle  ShuffleFunc
	attempts int
}

type Option func(*Drawer)

// WithShuffle replaces the random source used for every shuffle.
func WithShuffle(fn ShuffleFunc) Option {
	return func(d *Drawer) {
		if fn != nil {
			d.shuffle = fn
		}
	}
}

func New(opts ...Option) *Drawer {
	d := &Drawer{
		shuffle:  rand.Shuffle,
		attempts: MaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDrawer = New()

// Assign draws with the package default Drawer.
func Assign(people []Person) ([]Pair, error) {
	return defaultDrawer.Assign(people)
}

// Assign returns a complete pairing for people, or an empty result when no
// attempt succeeded. A non-nil error is only ever an ErrInvariant.
func (d *Drawer) Assign(people []Person) ([]Pair, error) {
	if len(people) == 0 {
		return nil, nil
	}

	for range d.attempts {
		order := d.perm(len(people))

		pairs, ok := d.search(people, order)
		if !ok {
			continue
		}

		if err := Verify(people, pairs); err != nil {
			return nil, err
		}

		return pairs, nil
	}

	return nil, nil
}

// frame is one depth of the search: a giver and its shuffled candidates.
type frame struct {
	giver      int
	candidates []int
	next       int
}

// search walks givers in order, backtracking with an explicit stack.
// receivers[k] is the receiver committed at depth k.
func (d *Drawer) search(people []Person, order []int) ([]Pair, bool) {
	n := len(people)
	used := make([]bool, n)
	receivers := make([]int, 0, n)
	stack := make([]frame, 0, n)

	stack = append(stack, frame{giver: order[0], candidates: d.perm(n)})

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		// Returning to a depth whose subtree failed: undo its choice.
		if len(receivers) == len(stack) {
			used[receivers[len(receivers)-1]] = false
			receivers = receivers[:len(receivers)-1]
		}

		picked := -1
		for top.next < len(top.candidates) {
			c := top.candidates[top.next]
			top.next++

			if valid(people, top.giver, c, used) {
				picked = c
				break
			}
		}

		if picked < 0 {
			stack = stack[:len(stack)-1]
			continue
		}

		used[picked] = true
		receivers = append(receivers, picked)

		if len(receivers) == n {
			pairs := make([]Pair, n)
			for depth, r := range receivers {
				pairs[depth] = Pair{
					GiverID:    people[order[depth]].ID,
					ReceiverID: people[r].ID,
				}
			}
			return pairs, true
		}

		stack = append(stack, frame{giver: order[len(receivers)], candidates: d.perm(n)})
	}

	return nil, false
}

func valid(people []Person, giver, receiver int, used []bool) bool {
	g, r := people[giver], people[receiver]

	return g.ID != r.ID && g.GroupID != r.GroupID && !used[receiver]
}

func (d *Drawer) perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	d.shuffle(n, func(i, j int) {
		p[i], p[j] = p[j], p[i]
	})
	return p
}

// Verify checks that pairs is a complete pairing of people: a bijection
// with no self-pairs and no same-group pairs.
func Verify(people []Person, pairs []Pair) error {
	if len(pairs) != len(people) {
		return fmt.Errorf("%w: %d pairs for %d people", ErrInvariant, len(pairs), len(people))
	}

	group := make(map[string]string, len(people))
	for _, p := range people {
		group[p.ID] = p.GroupID
	}

	givers := make(map[string]bool, len(pairs))
	receivers := make(map[string]bool, len(pairs))

	for _, pair := range pairs {
		giverGroup, ok := group[pair.GiverID]
		if !ok {
			return fmt.Errorf("%w: unknown giver %q", ErrInvariant, pair.GiverID)
		}
		receiverGroup, ok := group[pair.ReceiverID]
		if !ok {
			return fmt.Errorf("%w: unknown receiver %q", ErrInvariant, pair.ReceiverID)
		}

		switch {
		case pair.GiverID == pair.ReceiverID:
			return fmt.Errorf("%w: %q draws themselves", ErrInvariant, pair.GiverID)
		case giverGroup == receiverGroup:
			return fmt.Errorf("%w: %q and %q share group %q", ErrInvariant, pair.GiverID, pair.ReceiverID, giverGroup)
		case givers[pair.GiverID]:
			return fmt.Errorf("%w: %q gives twice", ErrInvariant, pair.GiverID)
		case receivers[pair.ReceiverID]:
			return fmt.Errorf("%w: %q receives twice", ErrInvariant, pair.ReceiverID)
		}

		givers[pair.GiverID] = true
		receivers[pair.ReceiverID] = true
	}

	return nil
}
