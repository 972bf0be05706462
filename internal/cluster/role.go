// Package cluster decides whether this node owns the elan subsystem.
//
// Exactly one node in a deployment is the Leader and performs elections
// and flow programming; the others are Followers that keep their caches in
// sync from the durable store. Components ask a RoleProvider at the top of
// every mutating operation.
package cluster

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Role is the ownership state of this node.
type Role uint8

const (
	// Follower nodes read from the store and never write.
	Follower Role = iota

	// Leader is the single writer.
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Leader:
		return "leader"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ErrUnknownRole indicates a role name other than leader or follower.
var ErrUnknownRole = errors.New("unknown cluster role")

// ParseRole parses "leader" or "follower", case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "leader":
		return Leader, nil
	case "follower":
		return Follower, nil
	default:
		return Follower, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// RoleProvider reports the current role. Implementations must be safe for
// concurrent use; the answer may change between calls.
type RoleProvider interface {
	Role() Role
}

// StaticRole is a RoleProvider whose role is set explicitly. It serves
// single-node deployments and tests.
type StaticRole struct {
	leader atomic.Bool
}

// NewStaticRole returns a provider fixed at r until Set is called.
func NewStaticRole(r Role) *StaticRole {
	s := &StaticRole{}
	s.Set(r)
	return s
}

// Role implements RoleProvider.
func (s *StaticRole) Role() Role {
	if s.leader.Load() {
		return Leader
	}
	return Follower
}

// Set changes the role.
func (s *StaticRole) Set(r Role) {
	s.leader.Store(r == Leader)
}
