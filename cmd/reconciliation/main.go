package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/queue"
	"github.com/storefront/orderedit/internal/repository"
	"github.com/storefront/orderedit/internal/service"
	"github.com/storefront/orderedit/pkg/logger"
)

type reconciliationConfig struct {
	DBURL         string
	RedisAddr     string
	RedisPassword string
	GatewayURL    string
	GatewayKey    string
	StaleMinutes  int
	Cron          string
	WebhookURL    string
	DryRun        bool
	Verbose       bool
}

var (
	runCLIFunc = runCLI
	exitFunc   = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runCLIFunc(ctx, os.Args[1:], os.Stdout, os.Stderr, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
	exitFunc(code)
}

func parseFlags(args []string) (reconciliationConfig, error) {
	fs := flag.NewFlagSet("reconciliation", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg reconciliationConfig
	fs.StringVar(&cfg.DBURL, "db-url", "", "PostgreSQL connection string")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address of the capture queue")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	fs.StringVar(&cfg.GatewayURL, "gateway-url", "", "payment gateway base URL")
	fs.StringVar(&cfg.GatewayKey, "gateway-key", "", "payment gateway API key")
	fs.IntVar(&cfg.StaleMinutes, "stale-minutes", 65, "minimum order age in minutes before it is considered stale")
	fs.StringVar(&cfg.Cron, "cron", "", "cron expression for scheduled runs, empty runs once")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "webhook url for critical capture alerts")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "scan only, do not re-queue anything")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show detailed progress")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("missing required --db-url")
	}
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return cfg, errors.New("missing required --gateway-url")
	}
	return cfg, nil
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if strings.TrimSpace(cfg.Cron) != "" {
		return runScheduled(ctx, cfg, out, errOut, opener)
	}
	return runOnce(ctx, cfg, out, errOut, opener)
}

func runScheduled(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cron expression: %v\n", err)
		return 2
	}

	if code := runOnce(ctx, cfg, out, errOut, opener); code == 2 {
		return code
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if cfg.Verbose {
			fmt.Fprintln(out, "Running scheduled reconciliation...")
		}
		if code := runOnce(ctx, cfg, out, errOut, opener); code != 0 {
			fmt.Fprintf(errOut, "scheduled reconciliation exited with code %d\n", code)
		}
	}))

	c.Start()
	<-ctx.Done()
	c.Stop()
	return 0
}

func runOnce(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	db, err := opener(cfg.DBURL)
	if err != nil {
		fmt.Fprintf(errOut, "failed to connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		fmt.Fprintf(errOut, "failed to ping database: %v\n", err)
		return 2
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	log := logger.New("reconciliation", errOut)
	m := metrics.New(nil)
	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayKey, 10*time.Second, log)
	gw.SetRetryHook(m.GatewayRetries.Inc)
	orders := repository.NewOrderRepository(db)
	jobs := queue.NewCaptureQueue(rdb, "", log)

	reconciler := service.NewReconciler(orders, gw, jobs, time.Duration(cfg.StaleMinutes)*time.Minute, m, log)
	reconciler.SetDryRun(cfg.DryRun)

	summary, err := reconciler.Run(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "reconciliation failed: %v\n", err)
		return 2
	}

	if cfg.Verbose || len(summary.Alerts) > 0 {
		fmt.Fprintf(out, "scanned=%d requeued=%d skipped=%d alerts=%d\n",
			summary.Scanned, summary.Requeued, summary.Skipped, len(summary.Alerts))
	}

	if len(summary.Alerts) == 0 {
		if cfg.Verbose {
			fmt.Fprintln(out, "✓ Reconciliation passed")
		}
		return 0
	}

	for _, a := range summary.Alerts {
		fmt.Fprintf(errOut, "✗ Capture needs attention: order=%s authorization=%s reason=%s\n",
			a.OrderID, a.AuthorizationID, a.Reason)
	}
	if cfg.WebhookURL != "" {
		if err := sendWebhook(ctx, cfg.WebhookURL, summary.Alerts); err != nil {
			fmt.Fprintf(errOut, "webhook alert failed: %v\n", err)
		}
	}
	return 1
}

func sendWebhook(ctx context.Context, url string, alerts []service.Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"source": "capture-reconciliation",
		"alerts": alerts,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
