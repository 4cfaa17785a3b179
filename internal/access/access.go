/*

This file contains the static role table guarding privileged vault operations. Role management itself is
configuration, not an operation.

*/

package access

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/elys-network/pegvault/internal/types"
)

// Role names a set of privileged callers.
type Role string

const (
	RoleGovernance Role = "governance"
	RoleKeeper     Role = "keeper"
)

// Control maps roles to their members. Governance members implicitly hold the keeper role.
type Control struct {
	members map[Role]map[string]bool
}

// NewControl creates a role table.
func NewControl(governance, keepers []string) *Control {
	c := &Control{members: map[Role]map[string]bool{
		RoleGovernance: {},
		RoleKeeper:     {},
	}}
	for _, g := range governance {
		c.members[RoleGovernance][g] = true
	}
	for _, k := range keepers {
		c.members[RoleKeeper][k] = true
	}
	return c
}

// HasRole reports whether caller holds role.
func (c *Control) HasRole(caller string, role Role) bool {
	if c.members[role][caller] {
		return true
	}
	return role == RoleKeeper && c.members[RoleGovernance][caller]
}

// Check returns ErrUnauthorized unless caller holds role.
func (c *Control) Check(caller string, role Role) error {
	if !c.HasRole(caller, role) {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s lacks the %s role", caller, role)
	}
	return nil
}

// Members returns the members of role.
func (c *Control) Members(role Role) []string {
	out := make([]string, 0, len(c.members[role]))
	for m := range c.members[role] {
		out = append(out, m)
	}
	return out
}
