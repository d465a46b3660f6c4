package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/maruel/uds/internal/auth"
	"github.com/maruel/uds/internal/config"
	"github.com/maruel/uds/internal/uds"
	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	v      *viper.Viper
	log    *slog.Logger
	cfg    *config.Config
	store  *uds.Store
	stderr io.Writer
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("uds")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &app{v: v, log: slog.Default(), stderr: colorable.NewColorable(os.Stderr)}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "uds",
		Short:         "Journaled user data store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.String("data-dir", "./data", "Data directory")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("driver", "", "Storage driver (jsonl, sqlite); defaults to the value in uds.yaml")
	pf.Bool("metrics", false, "Print store metrics to stderr on exit")
	root.AddCommand(
		a.userCmd(),
		a.credentialCmd(),
		a.loginCmd(),
		a.verifyCmd(),
		a.schemaCmd(),
		versionCmd(),
	)
	return root
}

// setup binds the flags, loads the environment file and initializes the
// logger. The store itself is opened on demand.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	dir := a.v.GetString("data-dir")
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	a.log = initLogger(a.stderr, a.v.GetString("log-level"))
	slog.SetDefault(a.log)
	return nil
}

// open loads the configuration and opens the store.
func (a *app) open(ctx context.Context) (*uds.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	dir := a.v.GetString("data-dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	s, err := uds.Open(ctx, uds.Options{
		DataDir: dir,
		Driver:  cmp.Or(a.v.GetString("driver"), cfg.Driver),
		Watch:   cfg.Watch,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

func (a *app) authenticator(ctx context.Context) (*auth.Authenticator, error) {
	s, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	return auth.New(s, auth.Options{
		Secret:   a.cfg.JWTSecret,
		TTL:      a.cfg.TokenTTL,
		Attempts: a.cfg.Login.Attempts,
		Window:   a.cfg.Login.Window,
		Burst:    a.cfg.Login.Burst,
	}, a.log)
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if a.v.GetBool("metrics") {
		a.store.WriteMetrics(a.stderr)
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("Failed to close store", "err", err)
	}
	a.store = nil
}
