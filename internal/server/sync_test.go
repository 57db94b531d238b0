package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/internal/store"
	garrisonsdk "garrison/sdk/go"
)

// Exercises the full client path: reports created on the server, fetched
// through the SDK into a client store, then approved optimistically there.
func TestStoreFetchAndApproveOverSDK(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":     "Patrol report",
		"content":   "Sector quiet.",
		"approvers": []string{"off-1"},
		"submit":    true,
	}, asUser("pvt-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create report: %d %s", res.StatusCode, string(data))
	}
	var created domain.Report
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "off-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("login body: %v", err)
	}

	sdk := garrisonsdk.New(srv.URL, "alpha-coy")
	sdk.BearerToken = login.Token
	s := store.NewReportStore(sdk, store.SyncPolicy{
		Timeout: 5 * time.Second,
		Retries: 1,
		Sleep:   func(time.Duration) {},
	}, nil)

	ctx := context.Background()
	if err := s.Fetch(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	fetched, ok := s.Get(created.ID)
	if !ok {
		t.Fatalf("report %s missing after fetch", created.ID)
	}
	if len(fetched.Approvers) != 1 || fetched.Approvers[0] != "off-1" {
		t.Fatalf("fetched approvers: %v", fetched.Approvers)
	}
	if fetched.Status != "pending" || fetched.CurrentApprover == nil || *fetched.CurrentApprover != "off-1" {
		t.Fatalf("fetched report: %+v", fetched)
	}

	// the awaited approver can act on the fetched snapshot
	rep, err := s.Approve(ctx, created.ID, "off-1", nil)
	if err != nil {
		t.Fatalf("approve after fetch: %v", err)
	}
	if rep.Status != "approved" || rep.CurrentApprover != nil {
		t.Fatalf("approved report: %+v", rep)
	}
	if len(s.Unsynced()) != 0 {
		t.Fatalf("unsynced after push: %v", s.Unsynced())
	}

	// server agrees
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+created.ID, nil, asUser("pvt-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get report: %d %s", res.StatusCode, string(data))
	}
	var persisted domain.Report
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal server report: %v", err)
	}
	if persisted.Status != "approved" {
		t.Fatalf("server status: %s", persisted.Status)
	}
}
