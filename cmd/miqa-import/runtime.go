package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"imagingqc/internal/app"
	"imagingqc/internal/blob"
	"imagingqc/internal/config"
	"imagingqc/internal/infra/persistence"
	"imagingqc/internal/logging"
	"imagingqc/internal/miqa/importfile"
	"imagingqc/internal/observability"
)

// runtime holds what a subcommand needs for one invocation.
type runtime struct {
	cfg     config.Config
	log     *zap.Logger
	svc     *app.Service
	shared  bool
	ops     *observability.ExpvarMetricsRecorder
	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	if r.ops != nil {
		snap := r.ops.Snapshot()
		r.log.Debug("operation totals", zap.Any("results", snap.Results), zap.Any("durations_ms", snap.DurationsMS))
	}
	_ = r.log.Sync()
	return errors.Join(errs...)
}

// setup loads configuration and wires the service. The ledger is opened only
// when withLedger is set.
func setup(ctx context.Context, opts *rootOptions, withLedger bool) (*runtime, error) {
	cfg, err := config.Load(config.Options{Path: opts.configPath, DotEnv: opts.dotEnv})
	if err != nil {
		return nil, err
	}
	cfg.Log.Verbose = opts.verbose
	log, err := logging.New(cfg.Log, opts.stderr)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, shared: cfg.SharedBlobStore()}

	var resolver importfile.Resolver = importfile.LocalResolver{}
	if rt.shared {
		store, err := blob.Open(ctx, cfg.BlobStoreConfig())
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		resolver = importfile.StoreResolver{Store: store}
		log.Debug("using shared import store", zap.String("driver", string(store.Driver())))
	}
	files := importfile.New(resolver, importfile.WithLogger(log.Named("importfile")))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	prom, err := observability.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, err
	}
	rt.ops = observability.NewExpvarMetricsRecorder("")
	svcOpts := []app.Option{app.WithLogger(log.Named("app")), app.WithMetrics(observability.Multi(prom, rt.ops))}
	if opts.trace {
		svcOpts = append(svcOpts, app.WithTracer(observability.NewJSONTracer(opts.stderr)))
	}

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		stop, err := serveMetrics(addr, reg, log)
		if err != nil {
			_ = log.Sync()
			return nil, err
		}
		rt.closers = append(rt.closers, stop)
	}

	if withLedger {
		st, err := persistence.Open(ctx, cfg.LedgerStoreConfig())
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		rt.closers = append(rt.closers, st.Close)
		svcOpts = append(svcOpts, app.WithLedger(st))
	}
	rt.svc = app.New(files, svcOpts...)
	return rt, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}

// metricsHandler serves the Prometheus registry on /metrics and the expvar
// operation totals on /debug/vars.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// locate turns a command-line path into a resolver location. Bare file
// names fall back to the configured imports directory; with a shared store
// the path is an object key.
func (r *runtime) locate(p string) app.Location {
	if r.shared {
		dir, file := path.Split(strings.TrimPrefix(filepath.ToSlash(p), "/"))
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" {
			dir = strings.TrimPrefix(path.Clean(filepath.ToSlash(r.cfg.Imports.Directory)), "/")
			if dir == "." {
				dir = ""
			}
		}
		return app.Location{Directory: dir, FileName: file}
	}
	dir, file := filepath.Split(p)
	if dir == "" {
		dir = r.cfg.Imports.Directory
	}
	return app.Location{Directory: filepath.Clean(dir), FileName: file}
}

// directory turns a command-line directory into a resolver directory. An
// empty argument means the configured imports directory.
func (r *runtime) directory(p string) string {
	if p == "" {
		p = r.cfg.Imports.Directory
	}
	if r.shared {
		dir := strings.Trim(path.Clean("/"+filepath.ToSlash(p)), "/")
		return dir
	}
	return filepath.Clean(p)
}

// locateOr uses the configured import file name when args is empty.
func (r *runtime) locateOr(args []string, i int) app.Location {
	if i < len(args) && args[i] != "" {
		return r.locate(args[i])
	}
	return r.locate(r.cfg.Imports.FileName)
}
