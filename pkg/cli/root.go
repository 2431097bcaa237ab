// Package cli builds the nimqueue command tree: worker, queue operations,
// job dispatch, health and configuration commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/nimqueue/pkg/bootstrap"
	"github.com/nimburion/nimqueue/pkg/config"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/observability/tracing"
	"github.com/nimburion/nimqueue/pkg/version"
)

// Options configures the command tree.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string
	// App replaces parts of the application wiring, mostly for tests.
	App bootstrap.Options
}

func (o *Options) normalize() {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = "nimqueue"
	}
	if strings.TrimSpace(o.Description) == "" {
		o.Description = "Async job queue worker and operator tooling"
	}
	if strings.TrimSpace(o.EnvPrefix) == "" {
		o.EnvPrefix = "APP"
	}
}

// globalFlags are the persistent flags every command shares.
type globalFlags struct {
	configFile  string
	secretFile  string
	serviceName string
}

type runner struct {
	opts  Options
	flags globalFlags
}

// NewCommand creates the root command with every subcommand attached.
func NewCommand(opts Options) *cobra.Command {
	opts.normalize()
	r := &runner{opts: opts}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&r.flags.configFile, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&r.flags.secretFile, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&r.flags.serviceName, "service-name", "", "service name override")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json, text)")
	rootCmd.PersistentFlags().String("default-connection", "", "default queue connection override")

	rootCmd.AddCommand(
		r.newVersionCommand(),
		r.newWorkerCommand(),
		r.newQueueCommand(),
		r.newJobsCommand(),
		r.newHealthcheckCommand(),
		r.newConfigCommand(),
	)
	return rootCmd
}

// Execute runs the command and exits with a non-zero code on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (r *runner) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(r.opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
}

// loadConfig resolves the secrets flag and loads the validated configuration.
// The second value holds what the secrets file set, for redaction.
func (r *runner) loadConfig(flags *pflag.FlagSet) (*config.Config, *config.Config, error) {
	if err := applySecretFileFlag(r.opts.EnvPrefix, r.flags.secretFile); err != nil {
		return nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(r.flags.configFile, r.opts.EnvPrefix).
		WithFlags(flags).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, r.opts.Name, r.flags.serviceName)
	return cfg, secrets, nil
}

// loadConfigAndLogger loads the configuration and builds the zap logger it describes.
// Log lines go to logOutput so command output on stdout stays parseable.
func (r *runner) loadConfigAndLogger(flags *pflag.FlagSet, logOutput io.Writer) (*config.Config, logger.Logger, error) {
	cfg, _, err := r.loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{
		Level:   logger.LogLevel(strings.ToLower(cfg.Observability.LogLevel)),
		Format:  logger.LogFormat(strings.ToLower(cfg.Observability.LogFormat)),
		Service: cfg.Service.Name,
		Output:  logOutput,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// session is one command's wired application plus its tracer.
type session struct {
	cfg    *config.Config
	log    logger.Logger
	app    *bootstrap.App
	tracer *tracing.TracerProvider
}

func (r *runner) openSession(cmd *cobra.Command) (*session, error) {
	cfg, log, err := r.loadConfigAndLogger(cmd.Flags(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	tracer, err := tracing.NewTracerProvider(cmd.Context(), tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	app, err := bootstrap.New(cfg, log, r.opts.App)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &session{cfg: cfg, log: log, app: app, tracer: tracer}, nil
}

func (s *session) close() {
	if err := s.app.Close(); err != nil {
		s.log.Error("failed to close application", "error", err)
	}
	if err := s.tracer.Shutdown(context.Background()); err != nil {
		s.log.Warn("failed to shutdown tracer provider", "error", err)
	}
	if syncer, ok := s.log.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "APP"
	}
	return strings.ToUpper(trimmed)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "nimqueue"
}
