package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"passnice/internal/attempts"
	"passnice/internal/components/chrono"
	"passnice/internal/components/telemetry"
	"passnice/pkg/configutil"

	"github.com/spf13/cobra"
)

const defaultConfigName = "passnice.json5"

var (
	configPath   string
	flagCarrier  string
	flagProxy    string
	flagTimeout  int
	flagDb       string
	flagMirror   string
	flagDump     string
	flagTracer   bool
	flagVerbose  bool
	otelShutdown func(context.Context) error
)

// env is filled in by the root command before any subcommand runs.
var env environment

var rootCmd = &cobra.Command{
	Use:   "passnice",
	Short: "passnice is a CLI for walking through NICE checkplus mobile sms verification.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		telemetry.InitSlog(config.Verbose)

		tel, err := telemetry.Setup(cmd.Context(), "passnice", config.Telemetry)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		otelShutdown = tel.Shutdown

		var api telemetry.API = telemetry.SlogAPI{}
		if tel.MeterProvider != nil {
			otelApi, err := telemetry.NewOtelAPI(api)
			if err != nil {
				return fmt.Errorf("setup telemetry: %w", err)
			}
			api = otelApi
		}

		clock, err := chrono.NewStandardImpl()
		if err != nil {
			return err
		}

		env = environment{
			Config: config,
			Tel:    api,
			Time:   clock,
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if otelShutdown == nil {
			return nil
		}
		return otelShutdown(context.Background())
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file, by default passnice.json5 is searched for from the working directory upwards.")
	flags.StringVar(&flagCarrier, "carrier", "", "Mobile carrier: SK, KT, LG, SM, KM or LM.")
	flags.StringVar(&flagProxy, "proxy", "", "Proxy url for every request to the provider.")
	flags.IntVar(&flagTimeout, "timeout", 0, "Per request timeout in seconds.")
	flags.StringVar(&flagDb, "db", "", "sqlite file to log verification attempts to.")
	flags.StringVar(&flagMirror, "mirror", "", "Directory to mirror the provider's pages and assets into.")
	flags.StringVar(&flagDump, "dump", "", "Directory to write raw http transcripts into.")
	flags.BoolVar(&flagTracer, "tracer", false, "Report the session to the provider's tracer api like a browser would.")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "Log every request.")
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	var config Config
	var err error
	if configPath != "" {
		config, err = configutil.ReadConfig[Config](configPath)
		if err != nil {
			return config, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		config, err = configutil.ReadRecursively[Config](defaultConfigName)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("carrier") {
		config.Carrier = flagCarrier
	}
	if flags.Changed("proxy") {
		config.Proxy = flagProxy
	}
	if flags.Changed("timeout") {
		config.TimeoutSeconds = flagTimeout
	}
	if flags.Changed("db") {
		config.Database = attempts.Config{File: flagDb}
	}
	if flags.Changed("mirror") {
		config.MirrorDir = flagMirror
	}
	if flags.Changed("dump") {
		config.DumpDir = flagDump
	}
	if flags.Changed("tracer") {
		config.ReportTracer = flagTracer
	}
	if flags.Changed("verbose") {
		config.Verbose = flagVerbose
	}
	return config, nil
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
