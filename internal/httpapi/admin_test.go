package httpapi

import (
	"context"
	"net/http"
	"testing"

	"carbonmap/core-go/internal/access"
)

func TestAdmin_RequiresConfirmedAdmin(t *testing.T) {
	env := newTestEnv(t, access.ResolverOptions{})
	body := `{"id":"uk.ac.cam.trinity","parent_id":"uk.ac.cam","name":"Trinity"}`

	rr := env.do(t, http.MethodPost, "/api/v1/admin/entities", "", body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/admin/entities", env.bearer(t, aliceID), body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin: expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "forbidden" {
		t.Fatalf("expected forbidden, got %q", code)
	}

	rr = env.do(t, http.MethodPut, "/api/v1/admin/accounts/admin", env.bearer(t, adminID), `{"email":"bob@example.org","admin":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("promote bob: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/v1/admin/entities", env.bearer(t, bobID), body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unconfirmed admin: expected 403, got %d", rr.Code)
	}
}

func TestAdmin_CreateEntity(t *testing.T) {
	env := newTestEnv(t, access.ResolverOptions{})
	admin := env.bearer(t, adminID)

	rr := env.do(t, http.MethodPost, "/api/v1/admin/entities", admin,
		`{"id":"uk.ac.cam.trinity","parent_id":"uk.ac.cam","is_primary":true,"name":"Trinity","metadata":{"founded":1546},"geometry":{"type":"Point","coordinates":[0.117,52.207]}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	state, err := env.catalog.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !state.Forest.Has("uk.ac.cam.trinity") {
		t.Fatalf("expected new entity in the published snapshot")
	}

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "duplicate", body: `{"id":"uk.ac.cam.trinity","name":"Trinity"}`, status: http.StatusConflict, code: "conflict"},
		{name: "unknown parent", body: `{"id":"uk.ac.ox.balliol","parent_id":"uk.ac.ox","name":"Balliol"}`, status: http.StatusNotFound, code: "not_found"},
		{name: "bad id", body: `{"id":"UK AC","name":"Shouting"}`, status: http.StatusUnprocessableEntity, code: "validation_failed"},
		{name: "nested metadata", body: `{"id":"uk.ac.cam.x","name":"X","metadata":{"a":{"b":1}}}`, status: http.StatusUnprocessableEntity, code: "validation_failed"},
		{name: "unknown field", body: `{"id":"uk.ac.cam.x","name":"X","colour":"red"}`, status: http.StatusBadRequest, code: "validation_failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/v1/admin/entities", admin, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, code)
			}
		})
	}
}

func TestAdmin_UpdateEntityRejectsCycle(t *testing.T) {
	env := newTestEnv(t, access.ResolverOptions{})
	admin := env.bearer(t, adminID)

	before, _ := env.catalog.Snapshot(context.Background())
	rr := env.do(t, http.MethodPut, "/api/v1/admin/entities/uk.ac.cam", admin,
		`{"parent_id":"uk.ac.cam.kings.chapel","name":"University of Cambridge"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "cycle_detected" {
		t.Fatalf("expected cycle_detected, got %q", code)
	}
	after, _ := env.catalog.Snapshot(context.Background())
	if before != after {
		t.Fatalf("a rejected write must leave the snapshot untouched")
	}

	rr = env.do(t, http.MethodPut, "/api/v1/admin/entities/uk.ac.cam.kings.chapel", admin,
		`{"parent_id":"uk.ac.cam.christs","name":"Chapel"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	state, _ := env.catalog.Snapshot(context.Background())
	if !state.Forest.Descendants("uk.ac.cam.christs").Has("uk.ac.cam.kings.chapel") {
		t.Fatalf("expected chapel to move under christs")
	}

	rr = env.do(t, http.MethodPut, "/api/v1/admin/entities/does.not.exist", admin, `{"name":"Nothing"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdmin_Grants(t *testing.T) {
	env := newTestEnv(t, access.ResolverOptions{})
	admin := env.bearer(t, adminID)
	alice := env.bearer(t, aliceID)

	// Narrow alice's college-wide grant on the chapel subtree.
	rr := env.do(t, http.MethodPost, "/api/v1/admin/grants", admin,
		`{"user_id":"`+aliceID+`","entity_id":"uk.ac.cam.kings.chapel","permission":"none"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, "/api/v1/popup_options?entity_id=uk.ac.cam.kings.chapel", alice, "")
	if body := decodeBody(t, rr); body["user_permission"] != "none" {
		t.Fatalf("expected explicit none to override the ancestor grant, got %v", body["user_permission"])
	}

	rr = env.do(t, http.MethodDelete, "/api/v1/admin/grants?user_id="+aliceID+"&entity_id=uk.ac.cam.kings.chapel", admin, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, "/api/v1/popup_options?entity_id=uk.ac.cam.kings.chapel", alice, "")
	if body := decodeBody(t, rr); body["user_permission"] != "metadata" {
		t.Fatalf("expected the college grant to apply again, got %v", body["user_permission"])
	}

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{name: "unknown account", method: http.MethodPost, target: "/api/v1/admin/grants",
			body: `{"user_id":"00000000-0000-0000-0000-00000000beef","entity_id":"uk.ac.cam","permission":"metadata"}`, status: http.StatusNotFound},
		{name: "unknown entity", method: http.MethodPost, target: "/api/v1/admin/grants",
			body: `{"user_id":"` + aliceID + `","entity_id":"uk.ac.ox","permission":"metadata"}`, status: http.StatusNotFound},
		{name: "bad permission", method: http.MethodPost, target: "/api/v1/admin/grants",
			body: `{"user_id":"` + aliceID + `","entity_id":"uk.ac.cam","permission":"owner"}`, status: http.StatusUnprocessableEntity},
		{name: "revoke absent", method: http.MethodDelete, target: "/api/v1/admin/grants?user_id=" + aliceID + "&entity_id=uk.ac.cam", status: http.StatusNotFound},
		{name: "revoke without params", method: http.MethodDelete, target: "/api/v1/admin/grants", status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, tc.method, tc.target, admin, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}

	state, _ := env.catalog.Snapshot(context.Background())
	if _, ok := state.Grants.Lookup(aliceID, "uk.ac.cam"); ok {
		t.Fatalf("rejected grant writes must not be stored")
	}
}

func TestAdmin_SetAdmin(t *testing.T) {
	env := newTestEnv(t, access.ResolverOptions{})
	admin := env.bearer(t, adminID)

	rr := env.do(t, http.MethodPut, "/api/v1/admin/accounts/admin", admin, `{"email":"alice@example.org","admin":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["admin"] != true {
		t.Fatalf("expected admin=true, got %v", body)
	}

	// Alice is now admin and the next request sees it without a new token.
	rr = env.do(t, http.MethodPost, "/api/v1/admin/entities", env.bearer(t, aliceID), `{"id":"uk.ac.cam.trinity","name":"Trinity"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected promoted account to pass admin check, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPut, "/api/v1/admin/accounts/admin", admin, `{"email":"admin@example.org","admin":false}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("self-demotion: expected 403, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/v1/admin/accounts/admin", admin, `{"email":"nobody@example.org","admin":true}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/v1/admin/accounts/admin", admin, `{"email":"alice@example.org"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing admin flag: expected 400, got %d", rr.Code)
	}
}

func TestConfirmAccount(t *testing.T) {
	env := newTestEnv(t, access.ResolverOptions{})
	bob := env.bearer(t, bobID)

	tok, err := env.tokens.IssueConfirmation("bob@example.org")
	if err != nil {
		t.Fatalf("issue confirmation: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/accounts/confirm", bob, `{"token":"`+tok.Token+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	acct, _ := body["account"].(map[string]any)
	if body["already_confirmed"] != false || acct["confirmed"] != true {
		t.Fatalf("unexpected confirm body: %v", body)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/accounts/confirm", bob, `{"token":"`+tok.Token+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["already_confirmed"] != true {
		t.Fatalf("expected already_confirmed=true, got %v", body)
	}

	foreign, err := env.tokens.IssueConfirmation("alice@example.org")
	if err != nil {
		t.Fatalf("issue confirmation: %v", err)
	}
	rr = env.do(t, http.MethodPost, "/api/v1/accounts/confirm", bob, `{"token":"`+foreign.Token+`"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("foreign token: expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_token" {
		t.Fatalf("expected invalid_token, got %q", code)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/accounts/confirm", "", `{"token":"`+tok.Token+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rr.Code)
	}
}
