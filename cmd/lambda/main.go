// Command lambda runs the failover controller as an SNS-subscribed AWS
// Lambda function. Configuration comes from the environment, as for the
// server, with the AWS backend selected unless FAILOVER_BACKEND says otherwise.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/internal/container"
	"github.com/mir00r/region-failover/internal/handler"
	"github.com/mir00r/region-failover/internal/observability"
	"github.com/mir00r/region-failover/pkg/logger"
)

var version = "dev"

func main() {
	if os.Getenv("FAILOVER_BACKEND") == "" {
		_ = os.Setenv("FAILOVER_BACKEND", config.BackendAWS)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	tracing, err := observability.NewTracingManager(cfg.Tracing, version, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize tracing")
	}

	app, err := container.New(context.Background(), cfg, version, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}

	log.WithFields(map[string]interface{}{
		"version": version,
		"backend": cfg.Backend,
		"record":  cfg.DNS.RecordName,
	}).Info("Failover function initialised")

	lambda.StartWithOptions(
		handler.NewLambdaHandler(app.Controller(), log).Handle,
		lambda.WithEnableSIGTERM(func() {
			_ = tracing.Shutdown(context.Background())
		}),
	)
}
