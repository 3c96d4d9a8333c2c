package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/platform/config"
	"finitefield.org/university-web/internal/platform/observability"
	"finitefield.org/university-web/internal/sections"
)

const (
	apiFlag     = "api"
	langFlag    = "lang"
	timeoutFlag = "timeout"
	verboseFlag = "verbose"
	envFileFlag = "env-file"
)

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	streams
	cfg     config.Config
	client  *cms.Client
	lang    i18n.Language
	bundle  *i18n.Bundle
	catalog *sections.Catalog
	logger  *zap.Logger
}

func newRootCmd(ctx context.Context, s streams) *cobra.Command {
	a := &app{streams: s, catalog: sections.Default()}

	cmd := &cobra.Command{
		Use:           "unictl",
		Short:         "unictl browses university news, programs, faculty, documents and FAQs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	cmd.SetIn(s.in)
	cmd.SetOut(s.out)
	cmd.SetErr(s.err)

	flags := cmd.PersistentFlags()
	flags.String(apiFlag, "", "content API base URL (overrides UNIWEB_API_BASE_URL)")
	flags.StringP(langFlag, "l", "", "content language: ru, en or ky")
	flags.Duration(timeoutFlag, 0, "per-request timeout (overrides UNIWEB_API_TIMEOUT)")
	flags.String(envFileFlag, ".env", "dotenv file with local overrides")
	flags.BoolP(verboseFlag, "v", false, "verbose logging on stderr")

	cmd.AddCommand(
		newListCmd(ctx, a),
		newGetCmd(ctx, a),
		newDownloadCmd(ctx, a),
		newBrowseCmd(ctx, a),
		newSectionsCmd(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	flags := cmd.Flags()
	envFile, _ := flags.GetString(envFileFlag)
	cfg, err := config.Load(config.WithEnvFile(envFile))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if api, _ := flags.GetString(apiFlag); strings.TrimSpace(api) != "" {
		cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(api), "/")
	}
	if timeout, _ := flags.GetDuration(timeoutFlag); timeout > 0 {
		cfg.API.Timeout = timeout
	}
	a.cfg = cfg

	a.lang = cfg.Locale.Default
	if raw, _ := flags.GetString(langFlag); raw != "" {
		lang, ok := i18n.Normalize(raw)
		if !ok {
			return fmt.Errorf("unsupported language %q (supported: %s)", raw, supportedLanguages())
		}
		a.lang = lang
	}

	level := "warn"
	if verbose, _ := flags.GetBool(verboseFlag); verbose {
		level = "debug"
	}
	logger, err := observability.NewLoggerWithLevel(level)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	a.logger = logger.Named("unictl")

	mode, ok := cms.ParseLangMode(cfg.API.LangMode)
	if !ok {
		mode = cms.LangModeBoth
	}
	client, err := cms.NewClient(cfg.API.BaseURL,
		cms.WithTimeout(cfg.API.Timeout),
		cms.WithLangMode(mode),
		cms.WithLogger(a.logger.Named("cms")),
	)
	if err != nil {
		return fmt.Errorf("content client: %w", err)
	}
	a.client = client

	bundle, err := i18n.LoadEmbedded(a.lang)
	if err != nil {
		return fmt.Errorf("load ui catalog: %w", err)
	}
	a.bundle = bundle
	return nil
}

func (a *app) requestTimeout() time.Duration {
	if a.cfg.API.Timeout > 0 {
		return a.cfg.API.Timeout
	}
	return cms.DefaultTimeout
}

func newSectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "list the content sections",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, name := range a.catalog.Names() {
				fmt.Fprintf(a.out, "%-10s %s\n", name, a.bundle.T(a.lang, "section."+name))
			}
			return nil
		},
	}
}

func supportedLanguages() string {
	langs := i18n.Supported()
	codes := make([]string, 0, len(langs))
	for _, l := range langs {
		codes = append(codes, string(l))
	}
	return strings.Join(codes, ", ")
}
