package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEntry(t *testing.T) {
	before := testutil.ToFloat64(entriesTotal.WithLabelValues("skipped"))
	ObserveEntry("skipped")
	ObserveEntry("skipped")
	if got := testutil.ToFloat64(entriesTotal.WithLabelValues("skipped")) - before; got != 2 {
		t.Fatalf("expected 2 skipped entries, got %f", got)
	}
}

func TestAddCategoriesCreatedIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(categoriesCreatedTotal)
	AddCategoriesCreated(0)
	AddCategoriesCreated(3)
	if got := testutil.ToFloat64(categoriesCreatedTotal) - before; got != 3 {
		t.Fatalf("expected 3 created categories, got %f", got)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers) - before; got != 1 {
		t.Fatalf("expected gauge delta 1, got %f", got)
	}
	DecActiveWorkers()
}
