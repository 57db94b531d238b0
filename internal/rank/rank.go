// Package rank implements the role hierarchy and the pure authorization
// predicates used by the report and task workflows.
package rank

import "garrison/internal/domain"

const (
	Soldier            = "soldier"
	Officer            = "officer"
	CompanyCommander   = "company_commander"
	BattalionCommander = "battalion_commander"
	Admin              = "admin"
)

// order is a total order over roles; unknown roles rank below soldier.
var order = map[string]int{
	Soldier:            1,
	Officer:            2,
	CompanyCommander:   3,
	BattalionCommander: 4,
	Admin:              5,
}

func Rank(role string) int {
	return order[role]
}

func Valid(role string) bool {
	_, ok := order[role]
	return ok
}

// HasPermission reports whether role ranks at or above required.
func HasPermission(role, required string) bool {
	return Rank(role) >= Rank(required) && Valid(role) && Valid(required)
}

func CanApproveReport(u domain.User) bool {
	return HasPermission(u.Role, Officer)
}

// CanViewReport covers authors, assigned approvers, and officer-and-up.
func CanViewReport(u domain.User, r domain.Report) bool {
	if u.ID == r.AuthorID {
		return true
	}
	for _, a := range r.Approvers {
		if a == u.ID {
			return true
		}
	}
	return HasPermission(u.Role, Officer)
}

func CanEditReport(u domain.User, authorID string) bool {
	return u.ID == authorID || HasPermission(u.Role, Admin)
}

// CanDeleteReport gates the only destructive report operation.
func CanDeleteReport(u domain.User, authorID string) bool {
	return u.ID == authorID || HasPermission(u.Role, BattalionCommander)
}

func CanDeleteTask(u domain.User, createdBy string) bool {
	return u.ID == createdBy || HasPermission(u.Role, BattalionCommander)
}
