package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/cyberinferno/go-ftpd/auth"
	"github.com/cyberinferno/go-ftpd/config"
	"github.com/cyberinferno/go-ftpd/logger"
	"github.com/cyberinferno/go-ftpd/server"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected subcommand.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			return runServe(ctx, args[1:], stdout, stderr)
		case "hash-password":
			return runHashPassword(args[1:], stdin, stdout, stderr)
		case "version":
			fmt.Fprintf(stdout, "ftpd %s\n", version)
			return nil
		}
	}

	return runServe(ctx, args, stdout, stderr)
}

// ── serve ────────────────────────────────────────────────────────────

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := config.Default()

	// The config file sits below env and flags, so find it first.
	if path := configPath(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}

	fs := flag.NewFlagSet("ftpd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var configFile string
	fs.StringVarP(&configFile, "config", "c", "", "YAML configuration file (env FTPD_CONFIG)")

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "Control connection listen address")
	fs.Int64Var(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "Maximum concurrent sessions")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close sessions idle for this long (0 disables)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Maximum time to send one reply (0 disables)")
	fs.IntVar(&cfg.MaxLineLength, "max-line-length", cfg.MaxLineLength, "Longest accepted command line")

	// ── login ────────────────────────────────────────────────────
	fs.StringVar(&cfg.LoginPolicy, "login-policy", cfg.LoginPolicy, "Login policy: immediate or password")
	fs.StringVarP(&cfg.UsersFile, "users", "u", cfg.UsersFile, "YAML users file for the password policy")
	fs.StringVar(&cfg.AuthCache, "auth-cache", cfg.AuthCache, "Verdict cache: none, memory or redis")
	fs.DurationVar(&cfg.AuthCacheTTL, "auth-cache-ttl", cfg.AuthCacheTTL, "Verdict cache TTL")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis verdict cache")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")

	// ── commands ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "Directory served to clients")
	fs.StringVar(&cfg.SystemType, "system-type", cfg.SystemType, "SYST reply text")
	fs.StringSliceVar(&cfg.DisabledCommands, "disable", cfg.DisabledCommands, "Commands to disable (repeatable or comma-separated)")

	// ── logging ──────────────────────────────────────────────────
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Also write daily log files into this directory")
	fs.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "Service name attached to log entries")

	var dryRun, showVersion, showHelp bool
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "ftpd %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	if dryRun {
		fmt.Fprintln(stdout, "configuration OK")
		return nil
	}

	err = srv.Run(ctx)
	log.Info("shutdown complete", logger.Field{Key: "metrics", Value: srv.Metrics().Snapshot()})
	return err
}

// configPath finds --config/-c without failing on the flags that are parsed
// later.
func configPath(args []string) string {
	pre := flag.NewFlagSet("ftpd", flag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}

	var path string
	pre.StringVarP(&path, "config", "c", "", "")
	_ = pre.Parse(args)

	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}
	return path
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.LogDir != "":
		return logger.NewZerologFileLogger(cfg.ServiceName, cfg.LogDir, level)
	case cfg.LogFormat == "console":
		return logger.NewConsoleLogger(cfg.ServiceName, level), nil
	default:
		return logger.NewZerologLogger(os.Stdout, cfg.ServiceName, level), nil
	}
}

// ── hash-password ────────────────────────────────────────────────────

func runHashPassword(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ftpd hash-password", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readPassword(stdin, stderr)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password, *cost)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, hash)
	return nil
}

// readPassword prompts without echo on a terminal, and otherwise reads the
// first line of stdin so the command works in pipelines.
func readPassword(stdin io.Reader, stderr io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr, "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		fmt.Fprint(stderr, "Confirm: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		if len(first) == 0 {
			return "", errors.New("empty password")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `ftpd - file transfer control-connection server v%s

Usage:
  ftpd [serve] [options]             Run the server
  ftpd hash-password [--cost N]      Print a bcrypt hash for a users file
  ftpd version                       Print version

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  ftpd -l :2121 -r /srv/ftp
  ftpd --login-policy password -u users.yaml --auth-cache memory
  ftpd -c /etc/ftpd.yaml --log-level debug
`)
}
