package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/xhad/reimburse/internal/app"
	cfgPkg "github.com/xhad/reimburse/pkg/config"
	"github.com/xhad/reimburse/pkg/logger"
	"github.com/xhad/reimburse/server"
)

type Flags struct {
	ConfigPath string
	Serve      bool
	Employee   string
	PolicyPath string
	BundlePath string
	Streaming  bool
	BaseURL    string
	DBUrl      string
	Provider   string
}

func main() {
	_ = godotenv.Load()

	flags := parseFlags()

	if err := run(flags); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() Flags {
	var f Flags

	flag.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	flag.BoolVar(&f.Serve, "serve", false, "Run the HTTP API instead of the interactive CLI")
	flag.StringVar(&f.Employee, "employee", "", "Employee name for the upload")
	flag.StringVar(&f.PolicyPath, "policy", "", "Path to the reimbursement policy PDF")
	flag.StringVar(&f.BundlePath, "invoices", "", "Path to the ZIP of invoice PDFs")
	flag.BoolVar(&f.Streaming, "stream", true, "Enable streaming responses")
	flag.StringVar(&f.BaseURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&f.DBUrl, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&f.Provider, "provider", "", "LLM provider (ollama or gemini)")
	flag.Parse()

	return f
}

func loadConfig(f Flags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Command line flags win over file and environment
	if f.BaseURL != "" {
		cfg.LLM.BaseURL = f.BaseURL
	}
	if f.DBUrl != "" {
		cfg.Database.URL = f.DBUrl
	}
	if f.Provider != "" {
		cfg.LLM.Provider = f.Provider
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s\n", e.Error())
		}
		return nil, fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}
	return cfg, nil
}

func run(f Flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer services.Close()

	if f.Serve {
		srv := server.New(server.Config{
			Addr:         cfg.Server.Addr,
			MaxUploadMB:  cfg.Server.MaxUploadMB,
			AllowOrigins: cfg.Server.AllowOrigins,
		}, services.Ingest, services.Chatbot, log)
		return srv.Run(ctx)
	}

	if f.PolicyPath != "" || f.BundlePath != "" {
		if err := runIngest(ctx, services, f); err != nil {
			return err
		}
	}

	return runChat(ctx, services, f.Streaming)
}
