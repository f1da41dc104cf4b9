// Package main provides the operator CLI for reviewing and resolving position flags.
//
// Usage:
//
//	flagctl [-config ledger.toml] list [-wallet W] [-position P] [-type T] [-all] [-limit N]
//	flagctl [-config ledger.toml] resolve -id ID -by NAME [-notes TEXT]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"solana-swap-ledger/internal/config"
	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
	pgstore "solana-swap-ledger/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to TOML configuration file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Postgres.DSN == "" {
		fmt.Fprintln(os.Stderr, "postgres dsn is required (set [postgres] dsn or LEDGER_POSTGRES_DSN)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	flags := pgstore.NewLedgerStore(pool)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "list":
		err = runList(ctx, flags, os.Stdout, args)
	case "resolve":
		err = runResolve(ctx, flags, os.Stdout, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: flagctl [-config FILE] <command> [flags]

Commands:
  list     List position flags (unresolved only unless -all)
  resolve  Mark a flag resolved

`)
	flag.PrintDefaults()
}

func runList(ctx context.Context, store storage.FlagStore, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	wallet := fs.String("wallet", "", "Filter by wallet id")
	position := fs.String("position", "", "Filter by position id")
	flagType := fs.String("type", "", "Filter by flag type")
	all := fs.Bool("all", false, "Include resolved flags")
	limit := fs.Int("limit", 100, "Maximum number of flags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flags, err := store.ListFlags(ctx, storage.FlagFilter{
		WalletID:       *wallet,
		PositionID:     *position,
		Type:           domain.FlagType(*flagType),
		UnresolvedOnly: !*all,
		Limit:          *limit,
	})
	if err != nil {
		return err
	}
	return printFlags(out, flags)
}

func printFlags(out io.Writer, flags []*domain.Flag) error {
	if len(flags) == 0 {
		_, err := fmt.Fprintln(out, "no flags")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSEVERITY\tTYPE\tWALLET\tPOSITION\tRESOLVED\tDESCRIPTION")
	for _, f := range flags {
		position := "-"
		if f.PositionID != nil {
			position = *f.PositionID
		}
		resolved := "no"
		if f.Resolved && f.ResolvedBy != nil {
			resolved = "by " + *f.ResolvedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.CreatedAt.UTC().Format(time.RFC3339), f.Severity, f.Type,
			f.WalletID, position, resolved, f.Description)
	}
	return tw.Flush()
}

func runResolve(ctx context.Context, store storage.FlagStore, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	id := fs.String("id", "", "Flag id (required)")
	by := fs.String("by", os.Getenv("USER"), "Operator resolving the flag")
	notes := fs.String("notes", "", "Resolution notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *by == "" {
		return errors.New("-id and -by are required")
	}

	err := store.ResolveFlag(ctx, *id, domain.Resolution{
		ResolvedBy: *by,
		Notes:      *notes,
		ResolvedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("flag %s not found", *id)
	case errors.Is(err, storage.ErrAlreadyResolved):
		return fmt.Errorf("flag %s is already resolved", *id)
	case err != nil:
		return err
	}

	_, err = fmt.Fprintf(out, "flag %s resolved by %s\n", *id, *by)
	return err
}
