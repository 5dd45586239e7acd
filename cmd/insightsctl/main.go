package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jrsteele09/tenant-insights/insights"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/server"
)

func main() {
	c := config.New()
	logging.Init(c.GetEnv(), envOr("INSIGHTSCTL_LOG_LEVEL", "warn"))

	open := func(ctx context.Context) (server.Insights, func() error, error) {
		return insights.Build(ctx, c, nil)
	}
	if err := execute(c, open, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
