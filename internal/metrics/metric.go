package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StageInitializing = iota + 1
	StageRunning
	StageStopping
)

func fqn(name string) string {
	return prometheus.BuildFQName("nubit", "block_committer", name)
}

var (
	Version = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fqn("version"),
			Help: "Service version number",
		},
		[]string{"version"},
	)

	Stage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: fqn("stage"),
		Help: "Service stage (e.g. initializing, running)",
	})

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("dbquery_duration"),
			Help:    "Duration of database queries",
			Buckets: []float64{0.02, 0.05, 0.1, 0.2, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	HttpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("http_duration"),
			Help:    "HTTP request duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 15},
		},
		[]string{"method", "path", "status"},
	)
)

// Provider is implemented by every component that owns metrics.
type Provider interface {
	Collectors() []prometheus.Collector
}

type processMetrics struct{}

func (processMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{Version, Stage, DBQueryDuration, HttpDuration}
}

// Process exposes the process-wide metrics of this package.
var Process Provider = processMetrics{}

func Register(registerer prometheus.Registerer, providers ...Provider) error {
	for _, provider := range providers {
		for _, collector := range provider.Collectors() {
			if err := registerer.Register(collector); err != nil {
				return err
			}
		}
	}
	return nil
}

func ObserveDBQuery(op string, started time.Time) {
	DBQueryDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func HTTP(c *gin.Context) {
	started := time.Now()

	c.Next()

	HttpDuration.WithLabelValues(
		c.Request.Method,
		c.FullPath(),
		strconv.Itoa(c.Writer.Status()),
	).Observe(time.Since(started).Seconds())
}

// ListenAndServe serves the gatherer on /metrics until ctx is done.
func ListenAndServe(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
