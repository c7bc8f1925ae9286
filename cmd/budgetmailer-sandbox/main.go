package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer/mock"
)

type failConfig struct {
	rate float64
	code int
}

func main() {
	addr := flag.String("addr", ":8787", "listen address")
	seed := flag.String("seed", "", "path to JSON seed (lists and contacts)")
	key := flag.String("key", mock.DefaultKey, "API key clients must send")
	secret := flag.String("secret", mock.DefaultSecret, "signing secret; empty disables signature checks")
	latency := flag.Duration("latency", 0, "artificial latency to inject per request")
	fail := flag.String("fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	verbose := flag.Bool("verbose", false, "log every request")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	api := mock.New(mock.WithCredentials(*key, *secret))
	if *seed != "" {
		s, err := mock.LoadSeed(*seed)
		if err != nil {
			fatal(logger, "load seed", err)
		}
		if err := api.Seed(s); err != nil {
			fatal(logger, "apply seed", err)
		}
	}

	failCfg, err := parseFailConfig(*fail)
	if err != nil {
		fatal(logger, "parse fail flag", err)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           withMiddleware(logger, *latency, failCfg, api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("budgetmailer-sandbox listening", "addr", *addr, "list", api.PrimaryList())
	host := *addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Println()
	fmt.Println("export BUDGETMAILER_MODE=http")
	fmt.Printf("export BUDGETMAILER_ENDPOINT=http://%s/\n", host)
	fmt.Printf("export BUDGETMAILER_KEY=%s\n", *key)
	fmt.Printf("export BUDGETMAILER_SECRET=%s\n", *secret)
	fmt.Printf("export BUDGETMAILER_LIST=%s\n", api.PrimaryList())
	fmt.Println()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "server failed", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withMiddleware(logger *slog.Logger, delay time.Duration, failCfg failConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			logger.Debug("failure injected", "method", r.Method, "path", r.URL.Path, "status", status)
			http.Error(w, "failure injected", status)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	parts := strings.Split(raw, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		switch strings.TrimSpace(keyVal[0]) {
		case "rate":
			val, err := strconv.ParseFloat(strings.TrimSpace(keyVal[1]), 64)
			if err != nil {
				return failConfig{}, err
			}
			if val < 0 || val > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v out of range [0,1]", val)
			}
			cfg.rate = val
		case "code":
			val, err := strconv.Atoi(strings.TrimSpace(keyVal[1]))
			if err != nil {
				return failConfig{}, err
			}
			cfg.code = val
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", keyVal[0])
		}
	}
	return cfg, nil
}
