package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("test")
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.Registry() == nil {
		t.Error("registry should not be nil")
	}
}

func TestCollector_RecordsSeries(t *testing.T) {
	c := NewCollector("test")

	c.RecordRequest("thor_sendTransaction", "in-app")
	c.RecordRequest("thor_sendTransaction", "in-app")
	c.RecordRejected("thor_sendTransaction", "session_mismatch")
	c.RecordResponse("thor_sendTransaction", "in-app", "success")
	c.RecordPresented("transaction")
	c.RecordPending("transaction", true)
	c.RecordReconciliation("confirmed")
	c.RecordDispatch("in-app", 2*time.Millisecond, nil)
	c.RecordDispatch("wallet-connect", time.Millisecond, errors.New("socket closed"))
	c.RecordRateLimited("in-app")

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}

	if got := values["test_requests_total"]; got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
	if got := values["test_dispatch_total"]; got != 2 {
		t.Errorf("dispatch_total = %v, want 2", got)
	}
	if got := values["test_surface_pending"]; got != 1 {
		t.Errorf("surface_pending = %v, want 1", got)
	}

	c.RecordPending("transaction", false)
	c.Reset()
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("")
	c.RecordRequest("thor_wallet", "in-app")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `dapp_gateway_requests_total{channel="in-app",method="thor_wallet"} 1`) {
		t.Errorf("exposition missing request counter:\n%s", rec.Body.String())
	}
}

func TestNoOpCollector(t *testing.T) {
	var r Recorder = NewNoOpCollector()
	r.RecordRequest("m", "c")
	r.RecordRejected("m", "k")
	r.RecordResponse("m", "c", "o")
	r.RecordPresented("x")
	r.RecordPending("x", true)
	r.RecordReconciliation("declined")
	r.RecordDispatch("c", time.Second, nil)
	r.RecordRateLimited("c")
}
