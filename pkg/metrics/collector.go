package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

// StatusSource counts dossiers per current situation label.
type StatusSource interface {
	CountByCurrentLabel(ctx context.Context) (map[string]int64, error)
}

// DossierCollector reports the dossier backlog per current status at
// scrape time.
type DossierCollector struct {
	source  StatusSource
	logger  *zap.Logger
	timeout time.Duration

	dossiers    *prometheus.Desc
	scrapeError *prometheus.Desc
}

func NewDossierCollector(source StatusSource, logger *zap.Logger) *DossierCollector {
	return &DossierCollector{
		source:  source,
		logger:  logger,
		timeout: 5 * time.Second,
		dossiers: prometheus.NewDesc(
			"dossierflow_dossiers",
			"Number of dossiers by current situation label.",
			[]string{"label"}, nil,
		),
		scrapeError: prometheus.NewDesc(
			"dossierflow_dossiers_scrape_error",
			"1 if the last dossier count query failed.",
			nil, nil,
		),
	}
}

func (c *DossierCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dossiers
	ch <- c.scrapeError
}

func (c *DossierCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.source.CountByCurrentLabel(ctx)
	if err != nil {
		c.logger.Warn("failed to count dossiers for metrics", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, 0)
	for label, count := range counts {
		ch <- prometheus.MustNewConstMetric(c.dossiers, prometheus.GaugeValue, float64(count), label)
	}
}

// StoreStatusSource reads the counts from the relational store.
type StoreStatusSource struct {
	store *postgres.Store
}

func NewStoreStatusSource(store *postgres.Store) *StoreStatusSource {
	return &StoreStatusSource{store: store}
}

func (s *StoreStatusSource) CountByCurrentLabel(ctx context.Context) (map[string]int64, error) {
	return postgres.NewDossierRepository(s.store.DB()).CountPerCurrentLabel(ctx)
}
