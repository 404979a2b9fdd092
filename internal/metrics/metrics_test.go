package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if snapshotRunsTotal == nil || snapshotStageDurationSeconds == nil ||
		httpRequestsTotal == nil || snapshotTriggersSkippedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRunAndPublish(t *testing.T) {
	Init()

	before := testutil.ToFloat64(snapshotRunsTotal.WithLabelValues("success"))
	ObserveRun("success", 3*time.Second)
	if got := testutil.ToFloat64(snapshotRunsTotal.WithLabelValues("success")); got != before+1 {
		t.Errorf("expected success runs to be %f, got %f", before+1, got)
	}

	at := time.Unix(1700000000, 0)
	ObservePublished(at, 4096)
	if got := testutil.ToFloat64(snapshotLastSuccessTimestamp); got != 1700000000 {
		t.Errorf("unexpected last success timestamp %f", got)
	}
	if got := testutil.ToFloat64(snapshotPublishedBytes); got != 4096 {
		t.Errorf("unexpected published bytes %f", got)
	}
}

func TestObserveCounters(t *testing.T) {
	Init()

	consentBefore := testutil.ToFloat64(snapshotConsentOutcomesTotal.WithLabelValues("suppressed"))
	skippedBefore := testutil.ToFloat64(snapshotTriggersSkippedTotal.WithLabelValues("manual"))

	ObserveConsent("suppressed")
	ObserveSkippedTrigger("manual")
	ObserveSkippedTrigger("manual")
	ObserveStage("render", time.Second)

	if got := testutil.ToFloat64(snapshotConsentOutcomesTotal.WithLabelValues("suppressed")); got != consentBefore+1 {
		t.Errorf("expected consent count %f, got %f", consentBefore+1, got)
	}
	if got := testutil.ToFloat64(snapshotTriggersSkippedTotal.WithLabelValues("manual")); got != skippedBefore+2 {
		t.Errorf("expected skipped count %f, got %f", skippedBefore+2, got)
	}
	if got := testutil.CollectAndCount(snapshotStageDurationSeconds); got < 1 {
		t.Errorf("expected stage histogram series, got %d", got)
	}
}
