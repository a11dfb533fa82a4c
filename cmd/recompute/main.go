// Command recompute rebuilds the NAV series of one or more funds once and
// exits. Funds are given as manager/fof pairs; without -funds every
// scheduled fund in the config is recomputed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atmx/fof-nav/internal/config"
	"github.com/atmx/fof-nav/internal/model"
	"github.com/atmx/fof-nav/internal/service"
	"github.com/atmx/fof-nav/internal/setup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	yesterday := model.Day(time.Now()).AddDate(0, 0, -1).Format(time.DateOnly)
	var (
		path     = flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to the YAML config file")
		funds    = flag.String("funds", "", "comma-separated manager/fof pairs")
		fromFlag = flag.String("from", "", "first date to rewrite (YYYY-MM-DD); default -to")
		toFlag   = flag.String("to", yesterday, "last date to rewrite (YYYY-MM-DD)")
		parallel = flag.Int("parallel", 0, "funds recomputed at once; default from config")
	)
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fail("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		fail("invalid config", err)
	}

	to, err := time.Parse(time.DateOnly, *toFlag)
	if err != nil {
		fail("invalid -to", err)
	}
	from := to
	if *fromFlag != "" {
		if from, err = time.Parse(time.DateOnly, *fromFlag); err != nil {
			fail("invalid -from", err)
		}
	}

	targets := cfg.Targets()
	if *funds != "" {
		if targets, err = parseTargets(*funds); err != nil {
			fail("invalid -funds", err)
		}
	}
	if len(targets) == 0 {
		fail("nothing to do", fmt.Errorf("no funds given and none configured"))
	}
	n := cfg.Schedule.Parallel
	if *parallel > 0 {
		n = *parallel
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setup.Open(ctx, cfg)
	if err != nil {
		fail("startup failed", err)
	}
	defer deps.Close()

	reqs := make([]service.Request, 0, len(targets))
	for _, t := range targets {
		reqs = append(reqs, service.Request{Target: t, From: from, To: to})
	}
	runner := service.NewRunner(deps.Store, deps.Recorder, nil)
	results := runner.RecomputeAll(ctx, reqs, n)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("FAIL %s/%s: %v\n", r.Request.ManagerID, r.Request.FofID, r.Err)
			continue
		}
		fmt.Printf("ok   %s/%s: %d records, nav %s\n", r.Request.ManagerID, r.Request.FofID, r.Outcome.Records, r.Outcome.LatestNAV)
	}
	if failed > 0 {
		deps.Close()
		os.Exit(1)
	}
}

func parseTargets(s string) ([]service.Target, error) {
	var targets []service.Target
	for _, pair := range strings.Split(s, ",") {
		manager, fof, ok := strings.Cut(strings.TrimSpace(pair), "/")
		if !ok || manager == "" || fof == "" {
			return nil, fmt.Errorf("%q is not manager/fof", pair)
		}
		targets = append(targets, service.Target{ManagerID: manager, FofID: fof})
	}
	return targets, nil
}

func fail(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
