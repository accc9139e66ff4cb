package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unsafe"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/config"
	"github.com/jihwankim/tierd/pkg/telemetry"
	"github.com/jihwankim/tierd/pkg/tierd"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Run the tiered memory manager against a simulated access pattern",
	Long: `run stands in for the allocation-interception shim described by the
manager's contract: it mmaps an anonymous region itself, registers it with
the manager, and drives a configurable hot/cold access pattern against it
while printing periodic status to standard error.`,
	RunE: runDemo,
}

func init() {
	runCmd.Flags().Bool("shim", true, "act as the allocation-interception shim (mmap + register the demo region)")
	runCmd.Flags().Uint64("region-bytes", 64*1024*1024, "size of the demo region, must be a multiple of the page size")
	runCmd.Flags().Duration("duration", 10*time.Second, "how long to drive the access pattern before shutting down")
	runCmd.Flags().Duration("status-interval", time.Second, "how often to print status")
	runCmd.Flags().Float64("hot-fraction", 0.1, "fraction of pages treated as the hot working set")
}

func runDemo(cmd *cobra.Command, args []string) error {
	shim, _ := cmd.Flags().GetBool("shim")
	regionBytes, _ := cmd.Flags().GetUint64("region-bytes")
	duration, _ := cmd.Flags().GetDuration("duration")
	statusInterval, _ := cmd.Flags().GetDuration("status-interval")
	hotFraction, _ := cmd.Flags().GetFloat64("hot-fraction")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := telemetry.NewLogger(telemetry.Config{
		Level:  telemetry.Level(logLevel),
		Format: telemetry.Format(logFormat),
		Output: os.Stderr,
	})

	metrics := telemetry.NewMetrics()
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	mgr := tierd.New(cfg, logger.Zerolog(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Init(ctx); err != nil {
		return fmt.Errorf("init manager: %w", err)
	}
	defer mgr.Shutdown()

	if !shim {
		logger.Info("manager initialized, --shim=false: nothing to drive, waiting for interrupt")
		return waitForInterrupt(ctx)
	}

	if regionBytes%clock.PageSize != 0 {
		return fmt.Errorf("--region-bytes (%d) must be a multiple of the page size (%d)", regionBytes, clock.PageSize)
	}

	region, err := unix.Mmap(-1, 0, int(regionBytes),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("mmap demo region: %w", err)
	}
	defer unix.Munmap(region)

	base := uintptr(unsafe.Pointer(&region[0]))
	if err := mgr.Register(base, regionBytes); err != nil {
		return fmt.Errorf("register demo region: %w", err)
	}
	defer mgr.Unregister(base)

	logger.Info("demo region registered", "base", fmt.Sprintf("%#x", base), "bytes", regionBytes)

	stop := driveAccessPattern(ctx, region, hotFraction)
	defer stop()

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	deadline := time.After(duration)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-statusTicker.C:
			mgr.RefreshMetrics()
			mgr.Status(os.Stderr)
		case <-deadline:
			logger.Info("demo duration elapsed, shutting down")
			return nil
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// driveAccessPattern starts a goroutine that continuously touches pages of
// region: most touches land in a small hot working set (hotFraction of the
// total pages), the rest scatter across the whole region, matching the
// hot/cold mix a real workload would produce for the policy loop to react
// to. The returned stop function halts the goroutine.
func driveAccessPattern(ctx context.Context, region []byte, hotFraction float64) (stop func()) {
	pageCount := len(region) / clock.PageSize
	if pageCount == 0 {
		return func() {}
	}
	hotPages := int(float64(pageCount) * hotFraction)
	if hotPages < 1 {
		hotPages = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(1))
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var page int
			if rng.Float64() < 0.9 {
				page = rng.Intn(hotPages)
			} else {
				page = rng.Intn(pageCount)
			}
			off := page * clock.PageSize
			region[off] ^= 0xff

			time.Sleep(time.Microsecond)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func waitForInterrupt(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		return nil
	case <-ctx.Done():
		return nil
	}
}
