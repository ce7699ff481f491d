package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_LedgerCounters(t *testing.T) {
	m := NewMetrics()
	m.AppendSucceeded("create")
	m.AppendSucceeded("update")
	m.AppendFailed("delete")
	m.AppendFailed("delete")
	m.VerificationFinished(true, 0)
	m.VerificationFinished(false, 3)

	rr := httptest.NewRecorder()
	m.Handler()(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		"ledger_appends_total 2\n",
		`ledger_append_failures_total{action="delete"} 2`,
		`ledger_verifications_total{result="invalid"} 1`,
		`ledger_verifications_total{result="valid"} 1`,
		"ledger_verification_findings_total 3\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestMetrics_MiddlewareGroupsIDs(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/management/activity/17", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/management/activity/18", nil))

	rr := httptest.NewRecorder()
	m.Handler()(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()

	if !strings.Contains(body, `ledger_http_requests_total{method="GET",status="404"} 2`) {
		t.Errorf("missing request total:\n%s", body)
	}
	if !strings.Contains(body, `ledger_http_request_duration_seconds_count{method="GET",path="/api/v1/management/activity/{id}"} 2`) {
		t.Errorf("ids not grouped:\n%s", body)
	}
}
