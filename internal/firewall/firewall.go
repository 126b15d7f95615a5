// Package firewall defines the boundary-enforcement collaborator used to
// deny and restore traffic for a network entity.
//
// Block installs a deny-all rule for the entity at the network edge; Unblock
// reverses exactly that rule. Duplicate-rule and rule-not-found conditions
// are benign and reported as typed sentinel errors so the response controller
// can treat them as no-ops.
package firewall

import (
	"context"
	"errors"
)

// ErrDuplicateRule reports that a deny rule for the entity already exists.
var ErrDuplicateRule = errors.New("firewall: rule already exists")

// ErrNotFound reports that no deny rule exists for the entity.
var ErrNotFound = errors.New("firewall: rule not found")

// Firewall is the enforcement collaborator contract.
type Firewall interface {
	// Block installs a deny-all rule for entity. Returns ErrDuplicateRule
	// if an identical rule is already present.
	Block(ctx context.Context, entity, reason string) error
	// Unblock removes the deny rule for entity. Returns ErrNotFound if no
	// such rule exists.
	Unblock(ctx context.Context, entity string) error
}
