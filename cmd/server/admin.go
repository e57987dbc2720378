package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/internal/container"
	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/pkg/logger"
)

// Admin commands run as one-off processes against the same configuration and
// adapters as the server.

const adminTimeout = 2 * time.Minute

// adminCommand runs with a fully wired container
type adminCommand func(ctx context.Context, app *container.Container, cfg *config.Config, args []string, out io.Writer) error

var adminCommands = map[string]adminCommand{
	"status":    runStatus,
	"override":  runOverride,
	"reconcile": runReconcile,
	"token":     runToken,
}

// runStatus prints the assignment, override and health the controller sees
func runStatus(ctx context.Context, app *container.Container, _ *config.Config, _ []string, out io.Writer) error {
	status, err := app.Controller().Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	return printJSON(out, status)
}

// runOverride stores a new override directive
func runOverride(ctx context.Context, app *container.Container, _ *config.Config, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: override AUTO|FORCE_PRIMARY|FORCE_SECONDARY")
	}
	override, err := domain.ParseOverride(args[0])
	if err != nil {
		return err
	}
	if err := app.Overrides().SetOverride(ctx, override); err != nil {
		return fmt.Errorf("failed to store override: %w", err)
	}
	fmt.Fprintf(out, "Override set to %s\n", override)
	return nil
}

// runReconcile runs one reconcile cycle and prints its result
func runReconcile(ctx context.Context, app *container.Container, _ *config.Config, _ []string, out io.Writer) error {
	result := app.Controller().Reconcile(ctx)
	if err := printJSON(out, result); err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("reconcile failed: %s", result.ErrorCode)
	}
	return nil
}

// runToken issues an operator token for the admin API
func runToken(_ context.Context, app *container.Container, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: token <subject> [role...]")
	}
	roles := args[1:]
	if len(roles) == 0 && cfg.Auth.RequiredRole != "" {
		roles = []string{cfg.Auth.RequiredRole}
	}
	token, err := app.Auth().IssueToken(args[0], roles...)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// runConfigValidation validates the current configuration
func runConfigValidation(cfg *config.Config, out io.Writer) error {
	fmt.Fprintln(out, "Configuration validation passed ✓")
	fmt.Fprintf(out, "Backend: %s\n", cfg.Backend)
	fmt.Fprintf(out, "Record: %s %s\n", cfg.DNS.RecordName, cfg.DNS.RecordType)
	fmt.Fprintf(out, "Primary: %s (%s)\n", cfg.Regions.Primary.Label, cfg.Regions.Primary.SetIdentifier)
	fmt.Fprintf(out, "Secondary: %s (%s)\n", cfg.Regions.Secondary.Label, cfg.Regions.Secondary.SetIdentifier)
	fmt.Fprintf(out, "Staleness Window: %s\n", cfg.Health.StalenessWindow)
	fmt.Fprintf(out, "Reconcile: %t\n", cfg.Reconcile.Enabled)
	fmt.Fprintf(out, "Auth: %t\n", cfg.Auth.Enabled)
	return nil
}

// runWriteConfig writes the effective configuration, after file and
// environment are merged, to a YAML file
func runWriteConfig(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: write-config <path>")
	}
	if err := cfg.SaveToFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Configuration written to %s\n", args[0])
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runAdmin executes one admin command
func runAdmin(cfg *config.Config, log *logger.Logger, command string, args []string, out io.Writer) error {
	switch command {
	case "validate-config", "validate":
		return runConfigValidation(cfg, out)
	case "write-config":
		return runWriteConfig(cfg, args, out)
	}

	cmd, ok := adminCommands[command]
	if !ok {
		return fmt.Errorf("unknown command: %s", command)
	}

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	app, err := container.New(ctx, cfg, version, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	return cmd(ctx, app, cfg, args, out)
}

// runAdminProcess handles admin process execution
func runAdminProcess() {
	args := adminArgs(os.Args)
	if len(args) < 1 {
		fmt.Println("Usage: region-failover -admin <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  status                  - Show assignment, override and region health")
		fmt.Println("  validate-config         - Validate configuration")
		fmt.Println("  write-config <path>     - Write the effective configuration as YAML")
		fmt.Println("  override <directive>    - Set AUTO, FORCE_PRIMARY or FORCE_SECONDARY")
		fmt.Println("  reconcile               - Run one reconcile cycle")
		fmt.Println("  token <subject> [roles] - Issue an operator token")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := runAdmin(cfg, log, args[0], args[1:], os.Stdout); err != nil {
		fmt.Printf("Command failed: %v\n", err)
		os.Exit(1)
	}
}

// adminArgs returns the arguments following -admin
func adminArgs(argv []string) []string {
	for i, arg := range argv {
		if arg == "-admin" {
			return argv[i+1:]
		}
	}
	return nil
}

// checkIfAdminMode checks if running in admin mode
func checkIfAdminMode() bool {
	for _, arg := range os.Args {
		if arg == "-admin" {
			return true
		}
	}
	return false
}
