package rank_test

import (
	"testing"

	"garrison/internal/domain"
	"garrison/internal/rank"
)

func TestHierarchyOrder(t *testing.T) {
	roles := []string{rank.Soldier, rank.Officer, rank.CompanyCommander, rank.BattalionCommander, rank.Admin}
	for i := 1; i < len(roles); i++ {
		if rank.Rank(roles[i]) <= rank.Rank(roles[i-1]) {
			t.Fatalf("expected %s to outrank %s", roles[i], roles[i-1])
		}
	}
	if rank.Valid("general") {
		t.Fatalf("unknown role should not be valid")
	}
	if rank.HasPermission("general", rank.Soldier) {
		t.Fatalf("unknown role should have no permissions")
	}
}

func TestHasPermission(t *testing.T) {
	cases := []struct {
		role, required string
		want           bool
	}{
		{rank.Soldier, rank.Officer, false},
		{rank.Officer, rank.Officer, true},
		{rank.BattalionCommander, rank.Officer, true},
		{rank.Admin, rank.BattalionCommander, true},
		{rank.CompanyCommander, rank.BattalionCommander, false},
	}
	for _, c := range cases {
		if got := rank.HasPermission(c.role, c.required); got != c.want {
			t.Errorf("HasPermission(%s,%s)=%v want %v", c.role, c.required, got, c.want)
		}
	}
}

func TestReportPredicates(t *testing.T) {
	author := domain.User{ID: "u1", Role: rank.Soldier}
	approver := domain.User{ID: "cmd-1", Role: rank.CompanyCommander}
	outsider := domain.User{ID: "u2", Role: rank.Soldier}
	bc := domain.User{ID: "bc-1", Role: rank.BattalionCommander}
	rep := domain.Report{AuthorID: "u1", Approvers: []string{"cmd-1"}}

	if !rank.CanApproveReport(approver) {
		t.Fatalf("company commander should approve")
	}
	if rank.CanApproveReport(author) {
		t.Fatalf("soldier should not approve")
	}
	if !rank.CanViewReport(author, rep) || !rank.CanViewReport(approver, rep) {
		t.Fatalf("author and approver should view")
	}
	if rank.CanViewReport(outsider, rep) {
		t.Fatalf("unrelated soldier should not view")
	}
	if !rank.CanEditReport(author, "u1") || rank.CanEditReport(outsider, "u1") {
		t.Fatalf("edit gate wrong")
	}
	if rank.CanDeleteReport(approver, "u1") {
		t.Fatalf("company commander cannot delete others' reports")
	}
	if !rank.CanDeleteReport(bc, "u1") || !rank.CanDeleteReport(author, "u1") {
		t.Fatalf("battalion commander and author can delete")
	}
	if !rank.CanDeleteTask(bc, "u1") || rank.CanDeleteTask(outsider, "u1") {
		t.Fatalf("task delete gate wrong")
	}
}
