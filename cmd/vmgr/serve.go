package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/EpicMandM/vsphere-group-manager/internal/handler"
	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
)

var listenFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only HTTP API for the group",
	Long: `Serve the group over HTTP until interrupted:

  GET /api/group            member names
  GET /api/group/state      power state of every member
  GET /api/group/snapshots  snapshot tree of every member
  GET /api/group/current    current snapshot of every member`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		g, err := a.Group()
		if err != nil {
			return err
		}

		addr := listenFlag
		if addr == "" {
			addr = a.Features().Server.Listen
		}
		log := newLogger()
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler.WithRequestID(handler.NewAPIHandler(g, log).Routes()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		log.Info("API listening", logger.Action("serve"), logger.F("ADDR", addr), logger.Count(g.Len()))

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		log.Info("Shutting down API", logger.Action("serve"), logger.Status("stopping"))
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "listen address (default from [server] listen)")
}
