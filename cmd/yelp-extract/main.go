// Command yelp-extract moves businesses from the Yelp search API into raw object storage.
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
	code := etl.Main(ctx, "yelp-extract", pipeline.StageExtract, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
