package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/api"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs, results and figures over HTTP",
		Long: `Serve the run database read-only:

  GET /api/runs                                   recorded runs, newest first
  GET /api/runs/{id}                              one run
  GET /api/runs/{id}/comparisons                  saved comparisons
  GET /api/runs/{id}/results?comparison=NAME      ranked test results
  GET /api/runs/{id}/files/{path}                 files in the run's save directory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions, listen string) error {
	params, err := rootOpts.params()
	if err != nil {
		return err
	}
	if params.SaveDir == "" && params.DBPath == nil {
		return fmt.Errorf("serve needs --db or --save-dir")
	}
	logger, err := rootOpts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDB(params, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	server := api.NewServer(db, fsutil.OSFileSystem{}, logger)
	srv := &http.Server{
		Addr:              listen,
		Handler:           api.LoggingMiddleware(logger, server.ServeMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx := cmd.Context()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", listen), zap.String("db", params.GetDBPath()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
