package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	sysinfo "github.com/elastic/go-sysinfo"
	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/backends"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/inference/registry"
	"github.com/labelkit/model-server/pkg/logging"
	"github.com/labelkit/model-server/pkg/metrics"
	"github.com/labelkit/model-server/pkg/middleware"
	modeltls "github.com/labelkit/model-server/pkg/tls"
	"github.com/labelkit/model-server/pkg/updatecheck"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 30 * time.Second

var log = logrus.New()

// serverConfig is the process configuration read from the environment.
type serverConfig struct {
	ConfigDir          string
	Host               string
	Port               string
	LogLevel           string
	LogJSON            bool
	LoadConcurrency    int
	AllowedOrigins     []string
	PathPrefix         string
	DisableMetrics     bool
	DisableUpdateCheck bool
	TLSEnabled         bool
	TLSCert            string
	TLSKey             string
}

func (c serverConfig) addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// configFromEnv reads the server configuration through getenv.
func configFromEnv(getenv func(string) string) (serverConfig, error) {
	cfg := serverConfig{
		ConfigDir:          getenv("MODEL_SERVER_CONFIG_DIR"),
		Host:               getenv("MODEL_SERVER_HOST"),
		Port:               getenv("MODEL_SERVER_PORT"),
		LogLevel:           getenv("LOG_LEVEL"),
		LogJSON:            isTrue(getenv("LOG_JSON")),
		LoadConcurrency:    1,
		AllowedOrigins:     middleware.ParseOrigins(getenv("MODEL_SERVER_ALLOWED_ORIGINS")),
		PathPrefix:         getenv("MODEL_SERVER_PATH_PREFIX"),
		DisableMetrics:     isTrue(getenv("DISABLE_METRICS")),
		DisableUpdateCheck: isTrue(getenv("DISABLE_UPDATE_CHECK")),
		TLSEnabled:         isTrue(getenv("MODEL_SERVER_TLS_ENABLED")),
		TLSCert:            getenv("MODEL_SERVER_TLS_CERT"),
		TLSKey:             getenv("MODEL_SERVER_TLS_KEY"),
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = "configs"
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port <= 0 || port > 65535 {
		return serverConfig{}, fmt.Errorf("invalid MODEL_SERVER_PORT %q", cfg.Port)
	}
	if s := getenv("MODEL_SERVER_LOAD_CONCURRENCY"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return serverConfig{}, fmt.Errorf("invalid MODEL_SERVER_LOAD_CONCURRENCY %q", s)
		}
		cfg.LoadConcurrency = n
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return serverConfig{}, errors.New("MODEL_SERVER_TLS_CERT and MODEL_SERVER_TLS_KEY must be set together")
	}
	if cfg.TLSCert != "" {
		cfg.TLSEnabled = true
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = middleware.DefaultAllowedOrigins
	}
	return cfg, nil
}

func isTrue(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// newRouter wires the registry handler, the metrics endpoint and the
// optional path prefix alias.
func newRouter(cfg serverConfig, reg *registry.Registry, tracker *metrics.Tracker, log logging.Logger) http.Handler {
	handler := registry.NewHTTPHandler(reg, log, cfg.AllowedOrigins)
	if !cfg.DisableMetrics && tracker != nil {
		handler.Handle("GET "+inference.MetricsPath, tracker.Handler())
		log.Infof("Metrics endpoint enabled at %s", inference.MetricsPath)
	} else {
		log.Infof("Metrics endpoint disabled")
	}

	var h http.Handler = handler
	if cfg.PathPrefix != "" {
		h = &middleware.AliasHandler{Prefix: cfg.PathPrefix, Handler: handler}
	}
	return otelhttp.NewHandler(h, "model-server")
}

// tlsConfig loads the configured certificate, or a self-signed one when TLS
// is enabled without a certificate.
func tlsConfig(cfg serverConfig, log logging.Logger) (*tls.Config, error) {
	certPath, keyPath := cfg.TLSCert, cfg.TLSKey
	if certPath == "" {
		dir, err := modeltls.DefaultDir()
		if err != nil {
			return nil, err
		}
		log.Infof("Generating a self-signed TLS certificate in %s", dir)
		certPath, keyPath, err = modeltls.EnsureSelfSigned(dir, cfg.Host)
		if err != nil {
			return nil, err
		}
	}
	log.Infof("Using TLS certificate: %s", certPath)
	return modeltls.LoadServerConfig(certPath, keyPath)
}

func logHost(log logging.Logger) {
	host, err := sysinfo.Host()
	if err != nil {
		log.Debugf("Unable to read host information: %v", err)
		return
	}
	info := host.Info()
	fields := map[string]interface{}{"arch": info.Architecture}
	if info.OS != nil {
		fields["os"] = info.OS.Name
	}
	if mem, err := host.Memory(); err == nil {
		fields["memory_total"] = units.BytesSize(float64(mem.Total))
		fields["memory_available"] = units.BytesSize(float64(mem.Available))
	}
	log.WithFields(fields).Infoln("Host information")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := configFromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log = logger
	appLog := logging.NewLogrusAdapter(logger)

	appLog.Infof("Model server %s starting", updatecheck.Version)
	appLog.Infof("MODEL_SERVER_CONFIG_DIR: %s", cfg.ConfigDir)
	logHost(appLog)

	if !cfg.DisableUpdateCheck {
		updatecheck.CheckAsync(ctx, nil, updatecheck.Version, appLog.WithField("component", "update-check"))
	}

	tracker := metrics.NewTracker()
	reg := registry.New(
		config.NewCatalog(cfg.ConfigDir),
		backends.Default(),
		registry.WithLogger(appLog),
		registry.WithTracker(tracker),
		registry.WithLoadConcurrency(cfg.LoadConcurrency),
	)
	reg.LoadAll(ctx)

	server := &http.Server{
		Addr:              cfg.addr(),
		Handler:           newRouter(cfg, reg, tracker, appLog),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled {
		server.TLSConfig, err = tlsConfig(cfg, appLog)
		if err != nil {
			log.Fatalf("Failed to load TLS configuration: %v", err)
		}
	}
	serverErrors := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			appLog.Infof("Listening on %s (TLS)", server.Addr)
			serverErrors <- server.ListenAndServeTLS("", "")
			return
		}
		appLog.Infof("Listening on %s", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Errorf("Server error: %v", err)
		}
	case <-ctx.Done():
		appLog.Infoln("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Errorf("Server shutdown error: %v", err)
		}
	}

	appLog.Infoln("Unloading models")
	reg.UnloadAll(context.Background())
	appLog.Infoln("Model server stopped")
}
