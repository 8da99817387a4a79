package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-ledger/api"
	"github.com/warp/payroll-ledger/config"
	"github.com/warp/payroll-ledger/generic"
	"github.com/warp/payroll-ledger/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "HTTP server port")
	overdueCmd.Flags().Bool("json", false, "Print the report as JSON")
	overdueCmd.Flags().String("as-of", "", "Evaluate as of this date (YYYY-MM-DD, default today)")

	rootCmd.AddCommand(serveCmd, overdueCmd, migrateCmd)
}

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.advances, a.escrow, a.store, a.log)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Log:         a.log,
		Metrics:     promhttp.Handler(),
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scanner := api.NewOverdueScanner(a.advances, a.metrics, a.log)
	scanner.CheckInterval = cfg.Overdue.ScanInterval.Duration

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		scanner.Start()
		<-gctx.Done()
		scanner.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		a.log.Error("server stopped with error", zap.Error(err))
		return err
	}
	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// OVERDUE
// =============================================================================

var overdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Print every overdue advance",
	Long: `Evaluates every ACTIVE advance with an outstanding balance and prints
the ones with no repayment for more than seven days.`,
	Args: cobra.NoArgs,
	RunE: runOverdue,
}

func runOverdue(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	asOf := generic.Today()
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		if asOf, err = generic.ParseDate(raw); err != nil {
			return fmt.Errorf("--as-of: %w", err)
		}
	}

	a, err := newApp(cmd.Context(), cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	overdue := a.advances.AllOverdue(asOf)
	out := cmd.OutOrStdout()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(overdue)
	}

	if len(overdue) == 0 {
		fmt.Fprintf(out, "No overdue advances as of %s\n", generic.FormatDate(asOf))
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADVANCE\tEMPLOYEE\tOUTSTANDING\tDUE\tDAYS OVERDUE")
	for _, o := range overdue {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			o.Advance.ID, o.Advance.EmployeeName, o.Outstanding,
			generic.FormatDate(o.DueDate), o.DaysOverdue)
	}
	return tw.Flush()
}

// =============================================================================
// MIGRATE
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQLite schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store.Kind != config.StoreSQLite {
			return fmt.Errorf("migrate needs the sqlite store, configured store is %q", cfg.Store.Kind)
		}
		v, err := sqlite.RunMigrations(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", cfg.Store.SQLitePath, v)
		return nil
	},
}
