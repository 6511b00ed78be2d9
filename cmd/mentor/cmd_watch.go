package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/queue"
)

// cmdWatch prints effort gate events as they happen, from the daemon's
// websocket stream or, with --amqp, from the broker
func cmdWatch(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) > 0 && args[0] == "--amqp" {
		return watchBroker(ctx)
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", daemonAddr())
	if err := newClient().Subscribe(ctx, printEvent); err != nil {
		return daemonError(err)
	}
	return nil
}

func watchBroker(ctx context.Context) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Notify.AMQPURL == "" {
		return fmt.Errorf("no broker configured (set notify.amqp_url or MENTOR_AMQP_URL)")
	}

	conn, err := queue.NewConnection(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := queue.NewSubscriber(conn, func(_ context.Context, e domain.Event) {
		printEvent(e)
	})
	if err := sub.Start(ctx); err != nil {
		return err
	}
	defer sub.Stop()

	fmt.Printf("Watching exchange %s (Ctrl-C to stop)\n", conn.Exchange())
	<-ctx.Done()
	return nil
}

func printEvent(e domain.Event) {
	ts := e.Timestamp.Local().Format("15:04:05")
	switch e.Type {
	case domain.EventEffortTimerUpdate:
		if e.TimeLeft != nil {
			fmt.Printf("%s  effort gate  %s left\n", ts, formatSeconds(*e.TimeLeft))
		}
	case domain.EventRunCountUpdate:
		if e.RunCount != nil {
			fmt.Printf("%s  run counted  %d\n", ts, *e.RunCount)
		}
	case domain.EventEffortUnlocked:
		fmt.Printf("%s  hints unlocked\n", ts)
	default:
		fmt.Fprintf(os.Stderr, "%s  unknown event %s\n", ts, e.Type)
	}
}
