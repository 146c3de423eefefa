// Command yelp-etl moves businesses from the search API through to the warehouse in one pass.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cognicore/yelpetl/internal/etl"
	"github.com/cognicore/yelpetl/pkg/yelp/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := etl.Main(ctx, "yelp-etl", pipeline.StageRun, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
