package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stake-plus/govvote/src/agents"
	"github.com/stake-plus/govvote/src/api/webserver"
	sharedconfig "github.com/stake-plus/govvote/src/config"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	srvCfg := sharedconfig.LoadServerConfig(a.db)
	agentsCfg := sharedconfig.LoadAgentsConfig(a.db)

	manager, err := agents.StartAll(ctx, agentsCfg, agents.Deps{
		Store:     a.store,
		Ledger:    a.ledger,
		Processor: a.svc.Processor(),
		Hub:       a.hub,
		Log:       a.log,
	})
	if err != nil {
		return fmt.Errorf("agents start: %w", err)
	}

	router, err := webserver.New(a.svc, webserver.Options{
		AllowedOrigins: srvCfg.AllowedOrigins,
		VoteRateLimit:  srvCfg.VoteRateLimit,
		LedgerMode:     a.ledger.Mode(),
		Gatherer:       a.registry,
		Log:            a.log,
	})
	if err != nil {
		manager.Stop(context.Background())
		return fmt.Errorf("router: %w", err)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", srvCfg.Port),
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	a.log.WithField("port", srvCfg.Port).Info("govvote API listening")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown")
	}
	manager.Stop(shutCtx)
	a.log.Info("govvote stopped")
	return serveErr
}
