package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/ledger"
)

type recordedCall struct {
	actor *domain.Actor
	evt   ledger.Event
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) Record(_ context.Context, actor *domain.Actor, evt ledger.Event) *domain.ActivityRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{actor: actor, evt: evt})
	return &domain.ActivityRecord{Action: evt.Action}
}

func TestClassifyRequest(t *testing.T) {
	tests := []struct {
		method, path                 string
		action, resource, resourceID string
	}{
		{"POST", "/api/v1/management/users", "create", "users", ""},
		{"PUT", "/api/v1/management/users/u-7", "update", "users", "u-7"},
		{"PATCH", "/api/v1/management/settings/site", "update", "settings", "site"},
		{"DELETE", "/api/v1/management/users/42", "delete", "users", "42"},
		{"POST", "/api/v1/management/activity/verify", "verify", "activity", ""},
		{"POST", "/api/v1/management/users/u-7/suspend", "suspend", "users", "u-7"},
		{"POST", "/api/v1/management/", "", "", ""},
		{"POST", "/other/path", "", "", ""},
	}

	for _, tt := range tests {
		action, resource, resourceID := classifyRequest(tt.method, tt.path)
		if action != tt.action || resource != tt.resource || resourceID != tt.resourceID {
			t.Errorf("%s %s: got (%q,%q,%q), want (%q,%q,%q)",
				tt.method, tt.path, action, resource, resourceID, tt.action, tt.resource, tt.resourceID)
		}
	}
}

func serveActivity(rec *fakeRecorder, method, path string, status int, actor *domain.Actor) {
	handler := ActivityLog(rec)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:17.0) Gecko/20100101 Firefox/17.0")
	if actor != nil {
		req = req.WithContext(context.WithValue(req.Context(), ActorKey, *actor))
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestActivityLog_RecordsSuccessfulMutations(t *testing.T) {
	rec := &fakeRecorder{}
	serveActivity(rec, "DELETE", "/api/v1/management/users/u-7", http.StatusNoContent,
		&domain.Actor{ID: "admin", EffectiveID: "u-2"})

	if len(rec.calls) != 1 {
		t.Fatalf("expected one record, got %d", len(rec.calls))
	}
	call := rec.calls[0]
	if call.actor == nil || call.actor.ID != "admin" || call.actor.EffectiveID != "u-2" {
		t.Fatalf("actor not propagated: %+v", call.actor)
	}
	evt := call.evt
	if evt.Action != "delete" || evt.Resource != "users" || evt.ResourceID == nil || *evt.ResourceID != "u-7" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if got := evt.Details.Keys(); len(got) != 3 || got[0] != "method" || got[2] != "status" {
		t.Fatalf("unexpected details %v", got)
	}
	if evt.SessionInfo == nil || evt.SessionInfo.IPAddress != "192.0.2.10" || evt.SessionInfo.Browser != "Firefox 17.0" {
		t.Fatalf("unexpected session %+v", evt.SessionInfo)
	}
}

func TestActivityLog_SkipsReadsAndFailures(t *testing.T) {
	rec := &fakeRecorder{}
	serveActivity(rec, "GET", "/api/v1/management/activity", http.StatusOK, nil)
	serveActivity(rec, "POST", "/api/v1/management/users", http.StatusBadRequest, nil)
	serveActivity(rec, "PUT", "/api/v1/management/users/1", http.StatusInternalServerError, nil)

	if len(rec.calls) != 0 {
		t.Fatalf("expected nothing recorded, got %+v", rec.calls)
	}
}

func TestActivityLog_AnonymousActor(t *testing.T) {
	rec := &fakeRecorder{}
	serveActivity(rec, "POST", "/api/v1/management/activity/verify", http.StatusOK, nil)

	if len(rec.calls) != 1 || rec.calls[0].actor != nil {
		t.Fatalf("expected one anonymous record, got %+v", rec.calls)
	}
}
