package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/safetycheck/safetycheck/client/internal/config"
	"github.com/safetycheck/safetycheck/client/internal/scrape"
	"github.com/safetycheck/safetycheck/client/internal/submitter"
)

const usage = `usage: safetyctl [flags] <command> [command flags]

commands:
  submit -file check.yaml   submit a complete check over gRPC
  stats                     summarise the server's /metrics

flags:
`

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	server := flag.String("server", "", "gRPC endpoint, overrides config")
	httpEndpoint := flag.String("http", "", "HTTP base URL, overrides config")
	logLevel := flag.String("log-level", "warn", "log level: debug|info|warn|error")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Client.GRPCEndpoint = *server
	}
	if *httpEndpoint != "" {
		cfg.Client.HTTPEndpoint = *httpEndpoint
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var runErr error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "submit":
		runErr = runSubmit(ctx, cfg.Client, args)
	case "stats":
		runErr = runStats(ctx, cfg.Client)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if runErr != nil {
		slog.Error("safetyctl failed", "err", runErr)
		os.Exit(1)
	}
}

func runSubmit(ctx context.Context, cfg config.ClientConfig, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	file := fs.String("file", "", "path to check YAML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("submit: -file is required")
	}

	cf, err := submitter.ReadCheckFile(*file)
	if err != nil {
		return err
	}
	req, err := cf.Struct()
	if err != nil {
		return err
	}

	slog.Info("submitting check", "user_id", cf.UserID, "endpoint", cfg.GRPCEndpoint)
	resp, err := submitter.New(cfg).Submit(ctx, req)
	if err != nil {
		return err
	}
	res, err := submitter.DecodeResult(resp)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runStats(ctx context.Context, cfg config.ClientConfig) error {
	s, err := scrape.New(cfg)
	if err != nil {
		return err
	}
	st, err := s.Scrape(ctx)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
