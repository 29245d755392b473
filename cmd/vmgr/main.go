package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EpicMandM/vsphere-group-manager/internal/app"
	"github.com/EpicMandM/vsphere-group-manager/internal/config"
	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	serverFlag   string
	envFile      string
	configPath   string
	groupSource  string
	savedGroup   string
	outputFormat string
	noHeaders    bool
	verbose      bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmgr",
	Short: "vmgr - drive groups of vSphere VMs together",
	Long: `vmgr manages a group of vSphere virtual machines as one unit.

It powers the group on and off, takes consistent snapshots of every member
and moves the whole group between snapshots.

The group is given with --group (a file with one VM name per line, or a
comma separated list) or --saved (a group stored with "vmgr group store").`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return output.ValidateFormat(outputFormat)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverFlag, "server", "", "vSphere endpoint as user[:password]@host (overrides VSPHERE_* variables)")
	flags.StringVar(&envFile, "env", getEnvOrDefault("VMGR_ENV_FILE", ".env"), "optional .env file with VSPHERE_* variables")
	flags.StringVar(&configPath, "config", getEnvOrDefault("VMGR_CONFIG", "./vmgr.toml"), "optional TOML feature config")
	flags.StringVarP(&groupSource, "group", "g", "", "group file or comma separated VM names")
	flags.StringVar(&savedGroup, "saved", "", "name of a stored group")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	flags.BoolVar(&noHeaders, "no-headers", false, "omit table headers")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.MarkFlagsMutuallyExclusive("group", "saved")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(vmsCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(currentCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(powerOnCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() *logger.Logger {
	log := logger.New()
	log.SetDebug(verbose)
	return log
}

// openOffline builds an app that only touches local group storage.
func openOffline() (*app.App, error) {
	features, err := config.LoadFeatureConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(nil, features, newLogger()), nil
}

// openSession connects to vSphere and loads the group named by --group or
// --saved. With requireGroup, one of them must be given.
func openSession(ctx context.Context, requireGroup bool) (*app.App, error) {
	log := newLogger()

	features, err := config.LoadFeatureConfig(configPath)
	if err != nil {
		log.Error("Failed to load feature config", logger.Error(err), logger.Path(configPath))
		return nil, err
	}

	cfg, err := config.LoadWithFile(envFile, serverFlag)
	if err != nil {
		log.Error("Failed to load infrastructure config", logger.Error(err), logger.Path(envFile))
		return nil, err
	}
	if err := app.PromptCredentials(cfg, os.Stdin, os.Stderr); err != nil {
		return nil, err
	}

	if requireGroup && groupSource == "" && savedGroup == "" {
		return nil, fmt.Errorf("no group given: use --group or --saved")
	}

	a := app.New(cfg, features, log)
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}

	switch {
	case groupSource != "":
		err = a.LoadGroup(ctx, groupSource)
	case savedGroup != "":
		err = a.LoadSavedGroup(ctx, savedGroup)
	}
	if err != nil {
		closeApp(ctx, a)
		return nil, err
	}
	return a, nil
}

func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
