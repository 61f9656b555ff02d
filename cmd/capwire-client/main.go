// Command capwire-client connects to a capwire server, lists its
// capabilities, and invokes the weather capabilities against a city.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/capwire/capwire/client"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8000", "base URL of the capwire server")
		city      = flag.String("city", "London", "city to query")
		days      = flag.Int("days", 3, "forecast days (1-3)")
		timeout   = flag.Duration("timeout", 30*time.Second, "per-call timeout")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), log, *serverURL, *city, *days, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, serverURL, city string, days int, timeout time.Duration) error {
	sess, err := client.Connect(ctx, serverURL, client.WithLogger(log))
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	fmt.Printf("Connected to %s (protocol %s)\n\n", sess.ServerName(), sess.ProtocolVersion())

	descs, err := sess.ListCapabilities(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Available capabilities:")
	for _, d := range descs {
		fmt.Printf("  - %s: %s\n", d.Name, d.Description)
	}
	fmt.Println()

	blocks, err := sess.Invoke(ctx, "get_current_weather", map[string]any{"city": city}, timeout)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		fmt.Println(b.Text)
	}
	fmt.Println()

	blocks, err = sess.Invoke(ctx, "get_forecast", map[string]any{"city": city, "days": days}, timeout)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		fmt.Println(b.Text)
	}

	return nil
}
