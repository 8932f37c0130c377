package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/strin/fortify/internal/store"
	"github.com/strin/fortify/internal/store/model"
	"github.com/strin/fortify/pkg/metrics"
)

const statusGaugeRefreshInterval = 30 * time.Second

type MetricServer struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
	store       store.Store
}

func NewMetricServer(bindAddress string, listener net.Listener, store store.Store) *MetricServer {
	router := chi.NewRouter()

	prometheusMetricHandler := metrics.NewPrometheusMetricsHandler()
	router.Handle("/metrics", prometheusMetricHandler.Handler())

	s := &MetricServer{
		bindAddress: bindAddress,
		listener:    listener,
		store:       store,
		httpServer: &http.Server{
			Addr:    bindAddress,
			Handler: router,
		},
	}

	return s
}

func (m *MetricServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.httpServer.SetKeepAlivesEnabled(false)
		_ = m.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("metrics_server").Info("metrics server terminated")
	}()

	ticker := time.NewTicker(statusGaugeRefreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.refreshStatusGauge(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	zap.S().Named("metrics_server").Infof("serving metrics: %s", m.bindAddress)
	if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (m *MetricServer) refreshStatusGauge(ctx context.Context) {
	counts, err := m.store.Statistics(ctx)
	if err != nil {
		zap.S().Named("metrics_server").Warnw("failed to refresh job status gauge", "error", err)
		return
	}
	for _, status := range model.JobStatusValues {
		metrics.UpdateJobStatusCountMetric(string(status), counts[status])
	}
}
