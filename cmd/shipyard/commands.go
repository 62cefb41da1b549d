package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/shipyard/internal/shell/api/middleware"
)

// Root returns the root command.
func Root() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "shipyard",
		Short:         "Deploy generated projects to git hosting, a compute platform and DNS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	cmd.AddCommand(Serve(&configPath))
	cmd.AddCommand(Deploy(&configPath))
	cmd.AddCommand(Token(&configPath))
	cmd.AddCommand(VersionCmd())

	return cmd
}

// Serve returns the command running the HTTP API and background workers.
func Serve(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return &ServerError{Op: "config", Err: err, ExitCode: ExitConfigError}
			}

			logger := SetupLogger(cfg)
			logger.Info("starting shipyard",
				"version", Version,
				"config", *configPath,
			)

			server, err := NewServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return server.Start(cmd.Context())
		},
	}
}

// Deploy returns the command running one deployment in-process.
func Deploy(configPath *string) *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy [project-path]",
		Short: "Deploy a project directory",
		Long: `Deploy a project directory and wait for the result.

The request comes from flags, a YAML manifest, or both; flags win.
On a terminal the pipeline is rendered live, otherwise one line is
printed per progress event. The command exits non-zero when the
deployment did not succeed.

Examples:
  # Deploy a website
  shipyard deploy ./acme --name "Acme Cafe" --type website

  # Deploy a companion app under an existing site
  shipyard deploy ./menu --name menu --type companion-app --parent acme-cafe

  # Deploy from a manifest without touching any platform
  shipyard deploy --manifest shipyard.yaml --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.projectPath = args[0]
			}
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return &ServerError{Op: "config", Err: err, ExitCode: ExitConfigError}
			}
			req, err := opts.request()
			if err != nil {
				return &ServerError{Op: "deploy", Err: err, ExitCode: ExitConfigError}
			}

			interactive := !opts.plain && isTerminal(os.Stdout)
			result, err := runDeploy(cmd.Context(), cfg, req, opts.dryRun, interactive, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return &ServerError{Op: "deploy", Err: err, ExitCode: ExitDeploymentFailed}
			}
			if !result.Success {
				return &ServerError{Op: "deploy", Err: errDeploymentFailed, ExitCode: ExitDeploymentFailed}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.manifest, "manifest", "f", "", "Path to a YAML deployment manifest")
	cmd.Flags().StringVarP(&opts.projectName, "name", "n", "", "Project name")
	cmd.Flags().StringVarP(&opts.appType, "type", "t", "", "App type: website, companion-app or advanced-app")
	cmd.Flags().StringVar(&opts.parent, "parent", "", "Parent site subdomain (companion apps)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run against in-memory platforms")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print plain progress lines even on a terminal")

	return cmd
}

var errDeploymentFailed = errors.New("deployment failed")

// Token returns the command minting API bearer tokens.
func Token(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return &ServerError{Op: "config", Err: err, ExitCode: ExitConfigError}
			}
			if cfg.Auth.JWTSecret == "" {
				return &ServerError{Op: "token", Err: errors.New("auth.jwt_secret is not set"), ExitCode: ExitConfigError}
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := middleware.GenerateToken(subject, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return &ServerError{Op: "token", Err: err, ExitCode: ExitConfigError}
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.token_ttl)")

	return cmd
}

// VersionCmd returns the version command.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shipyard %s (built %s)\n", Version, BuildTime)
		},
	}
}
