// Command migrated serves the identity migration endpoint: the HTTP
// form of the merge that folds an anonymous user's progress into a
// signed-in account. It is the self-hosted equivalent of the serverless
// deployment and reads the same environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cdcmanual/progresskit/pkg/docstore/rest"
	"github.com/cdcmanual/progresskit/pkg/logger"
	"github.com/cdcmanual/progresskit/pkg/migrate"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrated",
		Short:         "Serve the progress identity migration endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8787", "address to listen on")
	flags.String("endpoint", "", "document database endpoint URL")
	flags.String("project", "", "document database project id")
	flags.String("api-key", "", "server-side API key")
	flags.String("database", "", "database id")
	flags.String("progress-collection", "", "progress collection id")
	flags.String("events-collection", "", "events collection id")
	flags.Bool("log-console", false, "human-readable log output")

	v := viper.GetViper()
	_ = v.BindPFlags(flags)

	// The serverless deployment configures itself from these variables;
	// the self-hosted binary honors the same names.
	_ = v.BindEnv("endpoint", "APPWRITE_ENDPOINT")
	_ = v.BindEnv("project", "APPWRITE_PROJECT")
	_ = v.BindEnv("api-key", "APPWRITE_API_KEY")
	_ = v.BindEnv("database", "APPWRITE_DB_ID")
	_ = v.BindEnv("progress-collection", "COL_PROGRESS_ID")
	_ = v.BindEnv("events-collection", "COL_EVENTS_ID")
	_ = v.BindEnv("listen", "MIGRATED_LISTEN")

	return cmd
}

func run(ctx context.Context) error {
	build := logger.New()
	if viper.GetBool("log-console") {
		build.Console()
	}
	log, err := build.Make()
	if err != nil {
		return err
	}

	endpoint := viper.GetString("endpoint")
	project := viper.GetString("project")
	apiKey := viper.GetString("api-key")
	if endpoint == "" || project == "" || apiKey == "" {
		return fmt.Errorf("endpoint, project and api-key are required")
	}

	store := rest.NewClient(endpoint, project, apiKey).SetLogger(log)
	migrator := migrate.New(store,
		viper.GetString("database"),
		viper.GetString("progress-collection"),
		viper.GetString("events-collection"),
		log)
	handler := migrate.NewHandler(migrator, log)

	server := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("migration endpoint listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
