// Package cmd holds the folioctl subcommands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/di"
	"github.com/aristath/folio/pkg/logger"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// Commands lists every folioctl subcommand.
var Commands = []subcommands.Command{
	&refreshCmd{},
	&reconcileCmd{},
	&rebuildCmd{},
	&statusCmd{},
	&convertCmd{},
	&summaryCmd{},
}

// stdout is where results are printed. Logs go to stderr.
var stdout io.Writer = os.Stdout

// session is an open container plus the logger it was built with.
type session struct {
	cfg       *config.Config
	container *di.Container
	log       zerolog.Logger
}

// open loads the configuration and wires the container. The work processor is
// started when withWork is set, so enqueued recomputation actually runs.
func open(ctx context.Context, withWork bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})

	container, err := di.Wire(cfg, log)
	if err != nil {
		return nil, err
	}
	if withWork {
		container.WorkProcessor.Start(ctx)
	}
	return &session{cfg: cfg, container: container, log: log}, nil
}

func (s *session) close() {
	s.container.Close()
}

// wait blocks until every queued recompute or refresh has finished.
func (s *session) wait(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.container.WorkProcessor.WaitIdle(ctx); err != nil {
		return fmt.Errorf("waiting for background work: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

func usageError(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
