package metrics_test

import (
	"testing"

	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister_IsIdempotent(t *testing.T) {
	// Должно выполняться без паники даже при повторном вызове.
	metrics.MustRegister()
	metrics.MustRegister()
}

func TestReaderCounters_Inc(t *testing.T) {
	metrics.MustRegister()

	beforeRead := testutil.ToFloat64(metrics.ItemsRead.WithLabelValues("orders", "text"))
	beforeTimeouts := testutil.ToFloat64(metrics.ReadTimeouts.WithLabelValues("orders"))
	beforeErrors := testutil.ToFloat64(metrics.ReadErrors.WithLabelValues("orders", "unsupported"))

	metrics.ItemsRead.WithLabelValues("orders", "text").Inc()
	metrics.ReadTimeouts.WithLabelValues("orders").Inc()
	metrics.ReadErrors.WithLabelValues("orders", "unsupported").Inc()

	if got := testutil.ToFloat64(metrics.ItemsRead.WithLabelValues("orders", "text")); got != beforeRead+1 {
		t.Fatalf("ItemsRead: got=%v want=%v", got, beforeRead+1)
	}
	if got := testutil.ToFloat64(metrics.ReadTimeouts.WithLabelValues("orders")); got != beforeTimeouts+1 {
		t.Fatalf("ReadTimeouts: got=%v want=%v", got, beforeTimeouts+1)
	}
	if got := testutil.ToFloat64(metrics.ReadErrors.WithLabelValues("orders", "unsupported")); got != beforeErrors+1 {
		t.Fatalf("ReadErrors: got=%v want=%v", got, beforeErrors+1)
	}
}

func TestItemsSkipped_CountersByLabel(t *testing.T) {
	metrics.MustRegister()

	validationBefore := testutil.ToFloat64(metrics.ItemsSkipped.WithLabelValues("validation"))
	unsupportedBefore := testutil.ToFloat64(metrics.ItemsSkipped.WithLabelValues("unsupported"))

	metrics.ItemsSkipped.WithLabelValues("validation").Inc()
	metrics.ItemsSkipped.WithLabelValues("validation").Inc()

	if got := testutil.ToFloat64(metrics.ItemsSkipped.WithLabelValues("validation")); got != validationBefore+2 {
		t.Fatalf("ItemsSkipped(validation): got=%v want=%v", got, validationBefore+2)
	}
	if got := testutil.ToFloat64(metrics.ItemsSkipped.WithLabelValues("unsupported")); got != unsupportedBefore {
		t.Fatalf("ItemsSkipped(unsupported): got=%v want=%v", got, unsupportedBefore)
	}
}
