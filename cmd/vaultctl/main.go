package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"DCAVault/internal/adminapi"
	"DCAVault/internal/config"
)

const usage = `usage: vaultctl [-config path] [-url admin-url] <command> [args]

commands:
  init                          create the vault from the config's vault section
  deposit  -holder ID -amount N record a stable deposit
  withdraw -holder ID -shares N burn shares for the pro-rata mix
  status   [-holder ID]         show vault or holder position
  crank                         run a due cycle now
  fees                          collect accrued fees (admin)
  schedule -period S -fee BPS   change period and fee (admin)
  history  [-limit N]           list recent cycles
`

func main() {
	cfgPath := flag.String("config", getEnv("CONFIG_PATH", "configs/config.yaml"), "Path to config YAML")
	adminURL := flag.String("url", "", "Admin API base URL (default from config)")
	timeout := flag.Duration("timeout", 90*time.Second, "Request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	base := cfg.Admin.URL
	if *adminURL != "" {
		base = *adminURL
	}
	client := adminapi.NewClient(base, cfg.Admin.Token)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := run(ctx, client, cfg, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		fatalf("%s: %v", flag.Arg(0), err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatalf("encode failed: %v", err)
	}
}

func run(ctx context.Context, c *adminapi.Client, cfg *config.Config, cmd string, args []string) (any, error) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "init":
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return c.Initialize(ctx, adminapi.InitializeRequest{
			Admin:         cfg.Vault.Admin,
			StableMint:    cfg.Vault.StableMint,
			TargetMint:    cfg.Vault.TargetMint,
			SharesMint:    cfg.Vault.SharesMint,
			PeriodSeconds: cfg.Vault.PeriodSeconds,
			FeeBps:        cfg.Vault.FeeBps,
		})

	case "deposit":
		holder := fs.String("holder", "", "Holder id")
		amount := fs.Uint64("amount", 0, "Stable base units")
		fs.Parse(args)
		return c.Deposit(ctx, *holder, *amount)

	case "withdraw":
		holder := fs.String("holder", "", "Holder id")
		shares := fs.Uint64("shares", 0, "Shares to burn")
		fs.Parse(args)
		return c.Withdraw(ctx, *holder, *shares)

	case "status":
		holder := fs.String("holder", "", "Holder id (optional)")
		fs.Parse(args)
		if *holder != "" {
			return c.Holder(ctx, *holder)
		}
		return c.Vault(ctx)

	case "crank":
		return c.Crank(ctx)

	case "fees":
		amount, err := c.CollectFees(ctx, cfg.Vault.Admin)
		if err != nil {
			return nil, err
		}
		return adminapi.FeesResponse{Collected: amount}, nil

	case "schedule":
		period := fs.Uint64("period", cfg.Vault.PeriodSeconds, "Period in seconds")
		fee := fs.Uint("fee", uint(cfg.Vault.FeeBps), "Fee in basis points")
		fs.Parse(args)
		if *fee > 10000 {
			return nil, fmt.Errorf("fee %d exceeds 10000 bps", *fee)
		}
		return c.UpdateSchedule(ctx, adminapi.ScheduleRequest{
			Caller:        cfg.Vault.Admin,
			PeriodSeconds: *period,
			FeeBps:        uint16(*fee),
		})

	case "history":
		limit := fs.Int("limit", 20, "Number of cycles")
		fs.Parse(args)
		return c.Cycles(ctx, *limit)

	default:
		return nil, fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "vaultctl: "+format+"\n", args...)
	os.Exit(1)
}
