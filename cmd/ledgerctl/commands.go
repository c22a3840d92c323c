package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurumvault/gold-ledger/internal/config"
	"github.com/aurumvault/gold-ledger/internal/store"
	"github.com/aurumvault/gold-ledger/internal/vault"
)

var errNoDatabase = errors.New("DATABASE_URL is not set")

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending schema migrations" }
func (*migrateCmd) Usage() string {
	return `ledgerctl migrate

  Applies every pending migration to DATABASE_URL.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, errNoDatabase)
		return subcommands.ExitFailure
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// ownerCmd is the shared shape of the read-only inspection commands.
type ownerCmd struct {
	owner string
	run   func(ctx context.Context, svc *vault.Service, owner string) (any, error)
}

func (c *ownerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "The owner to inspect (required).")
}

func (c *ownerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fmt.Fprintln(os.Stderr, "-owner is required")
		return subcommands.ExitUsageError
	}
	svc, closeFn, err := openService(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	out, err := c.run(ctx, svc, c.owner)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := printJSON(os.Stdout, out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if rec, ok := out.(vault.Reconciliation); ok && !rec.Consistent() {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type summaryCmd struct{ ownerCmd }

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "print an owner's balance summary" }
func (*summaryCmd) Usage() string {
	return `ledgerctl summary -owner <id>

  Prints bucket totals of both wallets, FPGW cost basis and weighted
  average price.
`
}
func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c.run = func(ctx context.Context, svc *vault.Service, owner string) (any, error) {
		return svc.Summary(ctx, owner)
	}
	return c.ownerCmd.Execute(ctx, f, args...)
}

type historyCmd struct{ ownerCmd }

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print an owner's ledger entries, oldest first" }
func (*historyCmd) Usage() string {
	return `ledgerctl history -owner <id>
`
}
func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c.run = func(ctx context.Context, svc *vault.Service, owner string) (any, error) {
		return svc.History(ctx, owner)
	}
	return c.ownerCmd.Execute(ctx, f, args...)
}

type lotsCmd struct{ ownerCmd }

func (*lotsCmd) Name() string     { return "lots" }
func (*lotsCmd) Synopsis() string { return "print an owner's active lots in FIFO order" }
func (*lotsCmd) Usage() string {
	return `ledgerctl lots -owner <id>
`
}
func (c *lotsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c.run = func(ctx context.Context, svc *vault.Service, owner string) (any, error) {
		return svc.Lots(ctx, owner)
	}
	return c.ownerCmd.Execute(ctx, f, args...)
}

type reconcileCmd struct{ ownerCmd }

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "replay an owner's ledger against live balances" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile -owner <id>

  Replays the ledger from empty and compares every bucket with the live
  state. Exits non-zero when they differ.
`
}
func (c *reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	c.run = func(ctx context.Context, svc *vault.Service, owner string) (any, error) {
		return svc.Reconcile(ctx, owner)
	}
	return c.ownerCmd.Execute(ctx, f, args...)
}

func openService(ctx context.Context) (*vault.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errNoDatabase
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return vault.NewService(store.NewPostgresStore(pool)), pool.Close, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
