package apis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
	"github.com/RiemaLabs/modular-block-committer/committer"
	"github.com/RiemaLabs/modular-block-committer/internal/metrics"
)

type Options struct {
	EnableDebug bool
	EnablePprof bool
	// Gatherer is served on /metrics when set.
	Gatherer prometheus.Gatherer
}

func submissionResult(submission checkpoint.Submission) *SubmissionResult {
	return &SubmissionResult{
		Height:          submission.Block.Height,
		Hash:            submission.Block.Hash.String(),
		SubmittalHeight: submission.SubmittalHeight.String(),
		Completed:       submission.Completed,
	}
}

func errorResponse(c *gin.Context, status int, err error) {
	errStr := err.Error()
	c.JSON(status, SubmissionResponse{Error: &errStr})
}

func GetHealth(c *gin.Context, health *committer.Health) {
	healthy, failing := health.Report()
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Failing: failing})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

func GetLatestSubmission(c *gin.Context, storage checkpoint.SubmissionStore) {
	submission, found, err := storage.LatestSubmission(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, fmt.Errorf("failed to read latest submission due to %w", err))
		return
	}
	if !found {
		errorResponse(c, http.StatusNotFound, checkpoint.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Result: submissionResult(submission)})
}

func GetSubmission(c *gin.Context, storage checkpoint.SubmissionStore) {
	hash, err := checkpoint.ParseBlockHash(c.Param("hash"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	submission, found, err := storage.Submission(c.Request.Context(), hash)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, fmt.Errorf("failed to read submission due to %w", err))
		return
	}
	if !found {
		errorResponse(c, http.StatusNotFound, checkpoint.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Result: submissionResult(submission)})
}

func NewRouter(storage checkpoint.SubmissionStore, health *committer.Health, opts Options) *gin.Engine {
	if !opts.EnableDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), metrics.HTTP, cors.Default())

	r.GET("/health", func(c *gin.Context) {
		GetHealth(c, health)
	})

	r.GET("/v1/submissions/latest", func(c *gin.Context) {
		GetLatestSubmission(c, storage)
	})

	r.GET("/v1/submissions/:hash", func(c *gin.Context) {
		GetSubmission(c, storage)
	})

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	if opts.EnablePprof {
		pprof.Register(r)
	}
	return r
}

// StartService serves handler on addr until ctx is done.
func StartService(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

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
