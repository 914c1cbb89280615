package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type fakeSource struct {
	counts map[string]int64
	err    error
}

func (f fakeSource) CountByCurrentLabel(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

func TestDossierCollectorReportsCounts(t *testing.T) {
	collector := NewDossierCollector(fakeSource{counts: map[string]int64{"En cours": 3, "Terminé": 1}}, zap.NewNop())

	expected := `
# HELP dossierflow_dossiers Number of dossiers by current situation label.
# TYPE dossierflow_dossiers gauge
dossierflow_dossiers{label="En cours"} 3
dossierflow_dossiers{label="Terminé"} 1
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "dossierflow_dossiers"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestDossierCollectorFlagsErrors(t *testing.T) {
	collector := NewDossierCollector(fakeSource{err: errors.New("db down")}, zap.NewNop())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "dossierflow_dossiers_scrape_error" {
			if value := family.GetMetric()[0].GetGauge().GetValue(); value != 1 {
				t.Fatalf("expected scrape error gauge 1, got %v", value)
			}
			return
		}
	}
	t.Fatal("scrape error metric not reported")
}
