package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/runtime"
	"github.com/aristath/fleet/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fleet until interrupted",
	Long: `Starts the configured workers along with the lease watchdog and
runs until SIGINT or SIGTERM. Workers claim tasks from the shared
queue, execute them, and review each other's results.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	if len(svc.cfg.Workers) == 0 {
		return fmt.Errorf("no workers configured. Add a workers section to %s", projectConfigPath())
	}
	if err := ensureDataDirs(svc.cfg); err != nil {
		return err
	}

	mode, err := runtime.ParseMode(svc.cfg.Runtime.Mode)
	if err != nil {
		return err
	}

	delegate, err := runtime.ParseMode(svc.cfg.Runtime.LazyDelegate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := svc.bus
	defer bus.Close()

	rt, err := runtime.New(mode, runtime.Deps{
		Defs:    workerDefs(svc.cfg),
		Mailbox: svc.mail,
		Queue:   svc.queue,
		Run: func(wctx context.Context, def runtime.WorkerDef) error {
			loop, err := newWorkerLoop(svc, bus, def)
			if err != nil {
				return err
			}
			return loop.Run(wctx)
		},
		Process: runtime.ProcessConfig{
			ConfigPath: projectConfigPath(),
			StopGrace:  svc.cfg.Runtime.StopGrace,
		},
		Lazy: runtime.LazyConfig{
			Delegate:      delegate,
			AlwaysOn:      svc.cfg.Runtime.AlwaysOn,
			IdleShutdown:  svc.cfg.Runtime.IdleShutdown,
			CheckInterval: svc.cfg.Runtime.IdleCheckInterval,
		},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	watchdog := worker.NewWatchdog(svc.queue, svc.cfg.Runtime.LeaseTimeout/3, bus)
	g.Go(func() error {
		return watchdog.Run(gctx)
	})

	g.Go(func() error {
		return logEvents(gctx, bus)
	})

	log.Printf("fleet running: %d workers, %s mode", len(svc.cfg.Workers), mode)
	if err := rt.StartAll(gctx); err != nil {
		stop()
		g.Wait()
		return err
	}

	<-gctx.Done()
	stop()
	log.Println("Shutdown signal received, stopping workers...")

	if err := rt.StopAll(); err != nil {
		log.Printf("WARNING: stopping workers: %v", err)
	}
	if n := bus.Dropped(); n > 0 {
		log.Printf("WARNING: %d event deliveries dropped to slow subscribers", n)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// logEvents mirrors the bus onto the process log so a headless run is
// observable.
func logEvents(ctx context.Context, bus *events.Bus) error {
	ch := bus.SubscribeAll(256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			log.Printf("event %s %s", ev.EventType(), ev.Subject())
		}
	}
}
