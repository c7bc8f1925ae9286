package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer"
)

// All linker flags are set at build time.
var (
	version = "dev"
	commit  = "none"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	client *budgetmailer.Client
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: budgetmailer.NewViper(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "budgetmailer",
		Short: "Manage BudgetMailer lists, contacts and tags.",
		Long: `budgetmailer talks to the BudgetMailer REST API using the same signed
requests and response cache as the Go client library.

Settings come from flags, BUDGETMAILER_* environment variables, a .env file
in the working directory and an optional config file, in that order of
precedence.`,
		Version:            version + " (" + commit + ")",
		SilenceErrors:      true,
		SilenceUsage:       true,
		DisableSuggestions: true,
		Annotations:        map[string]string{"offline": "true"},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.teardown()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a yaml, json or toml config file")
	flags.String("key", "", "API key")
	flags.String("secret", "", "API secret used to sign requests")
	flags.String("list", "", "Default contact list id")
	flags.String("endpoint", budgetmailer.DefaultEndPoint, "API base URL")
	flags.Bool("cache", false, "Cache responses on disk")
	flags.String("cache-dir", "", "Directory for cached responses")
	flags.String("cache-backend", budgetmailer.CacheBackendFile, "Cache backend: file or bolt")
	flags.String("ttl", "", "Cache entry lifetime in seconds or as a duration (1h)")
	flags.String("timeout-socket", "", "Connect timeout in seconds or as a duration")
	flags.String("timeout-stream", "", "Read/write timeout in seconds or as a duration")
	flags.String("timeout-http", "", "Overall request timeout in seconds or as a duration")
	flags.Bool("dump", false, "Log raw HTTP traffic at debug level")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("color", "auto", "Colored output: auto, yes or no")

	// Flag names use dashes, config keys use underscores.
	for _, name := range []string{"key", "secret", "list", "endpoint", "cache", "cache-dir", "cache-backend", "ttl", "timeout-socket", "timeout-stream", "timeout-http", "dump"} {
		_ = a.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	root.AddCommand(
		newListsCmd(a),
		newContactsCmd(a),
		newContactCmd(a),
		newTagsCmd(a),
		newBulkCmd(a),
		newCacheCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup resolves configuration and opens the client. Commands that do not
// talk to the API skip it through the "offline" annotation.
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()

	verbose, _ := flags.GetBool("verbose")
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))

	switch mode, _ := flags.GetString("color"); strings.ToLower(mode) {
	case "yes", "true", "1":
		color.NoColor = false
	case "no", "false", "0":
		color.NoColor = true
	}

	if cmd.Annotations["offline"] == "true" {
		return nil
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	if path, _ := flags.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg, err := budgetmailer.ConfigFromViper(a.v)
	if err != nil {
		return err
	}
	client, err := budgetmailer.New(cfg, budgetmailer.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.client = client
	a.logger.Debug("client ready", "endpoint", client.Config().EndPoint, "list", client.Config().List)
	return nil
}

func (a *app) teardown() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version of budgetmailer.",
		Annotations: map[string]string{"offline": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("budgetmailer CLI\n")
			cmd.Printf("  Version: %s\n", version)
			cmd.Printf("  Commit:  %s\n", commit)
		},
	}
}
