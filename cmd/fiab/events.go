package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/client"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
)

func printEventsHelp() {
	fmt.Print(`Usage: fiab events --api <url> [--token <token>] [--since <id>]

Print events from a running server until interrupted. The token defaults to
$FIAB_TOKEN.
`)
}

func runEvents(args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Base URL of the fiab API")
	token := fs.String("token", os.Getenv("FIAB_TOKEN"), "Bearer token")
	since := fs.Int64("since", 0, "Replay buffered events after this id")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(*apiURL, *token)
	if _, err := c.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server not reachable: %v\n", err)
		return 1
	}

	err := c.Stream(ctx, *since, func(ev events.Event) {
		fmt.Printf("%s %s %s %s\n",
			styles.Dim.Render(ev.At.Local().Format(time.TimeOnly)),
			styles.Dim.Render(fmt.Sprintf("#%d", ev.ID)),
			styles.Header.Render(ev.Type),
			string(ev.Data),
		)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Event stream closed: %v\n", err)
		return 1
	}
	return 0
}
