// Package rbac maps roles to "resource:action" permissions.
package rbac

import (
	"slices"
	"sort"
	"strings"
)

const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	// ActionManage implies every other action on the resource.
	ActionManage = "manage"
)

// Resources guarded by permissions.
const (
	ResCompanies         = "companies"
	ResBudgetAllocations = "budget_allocations"
	ResContractItems     = "contract_items"
	ResDrugPackRatios    = "drug_pack_ratios"
	ResInventory         = "inventory"
	ResFiles             = "files"
	ResUsers             = "users"
)

func Perm(resource, action string) string { return resource + ":" + action }

// Wildcard grants everything.
const Wildcard = "*"

var table = map[string][]string{
	"admin": {Wildcard},
	"manager": {
		Perm(ResCompanies, ActionManage),
		Perm(ResBudgetAllocations, ActionManage),
		Perm(ResContractItems, ActionManage),
		Perm(ResDrugPackRatios, ActionManage),
		Perm(ResInventory, ActionManage),
		Perm(ResFiles, ActionManage),
		Perm(ResUsers, ActionRead),
	},
	"finance": {
		Perm(ResBudgetAllocations, ActionManage),
		Perm(ResCompanies, ActionRead),
		Perm(ResContractItems, ActionRead),
		Perm(ResFiles, ActionCreate),
		Perm(ResFiles, ActionRead),
	},
	"pharmacist": {
		Perm(ResInventory, ActionManage),
		Perm(ResDrugPackRatios, ActionManage),
		Perm(ResContractItems, ActionRead),
		Perm(ResCompanies, ActionRead),
		Perm(ResFiles, ActionCreate),
		Perm(ResFiles, ActionRead),
	},
	"user": {
		Perm(ResCompanies, ActionRead),
		Perm(ResInventory, ActionRead),
		Perm(ResFiles, ActionCreate),
		Perm(ResFiles, ActionRead),
		Perm(ResFiles, ActionDelete),
	},
}

// KnownRole reports whether role has an entry in the table.
func KnownRole(role string) bool {
	_, ok := table[role]
	return ok
}

// PermissionsFor returns the sorted, de-duplicated permission set for roles.
func PermissionsFor(roles []string) []string {
	set := map[string]struct{}{}
	for _, r := range roles {
		for _, p := range table[r] {
			set[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Allows reports whether perms grants resource:action.
func Allows(perms []string, resource, action string) bool {
	for _, p := range perms {
		if p == Wildcard {
			return true
		}
		res, act, ok := strings.Cut(p, ":")
		if !ok || res != resource {
			continue
		}
		if act == action || act == ActionManage {
			return true
		}
	}
	return false
}

// HasRole reports whether any of roles is in allowed.
func HasRole(roles []string, allowed ...string) bool {
	for _, r := range roles {
		if slices.Contains(allowed, r) {
			return true
		}
	}
	return false
}
