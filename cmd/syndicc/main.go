package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/SyndicLabs/syndic/client"
	"github.com/SyndicLabs/syndic/models"
)

var (
	hostPort   string
	apiKey     string
	skipVerify bool
	timeout    time.Duration
)

func usage() {
	fmt.Fprintf(os.Stderr, `syndicc - control a running sync node

Usage:
  syndicc [flags] <command> [args]

Commands:
  ping                     Check the node is reachable
  index                    List the event uuids the node serves you
  fetch <uuid>             Fetch one event's propagation set
  create <file.json>       Create a local event from a JSON file (admin key)
  publish <uuid>           Publish a local event (admin key)
  push <link> [uuid]       Push one event, or everything, over a link (admin key)
  pull <link> [uuid]       Pull one event, or everything, from a link (admin key)
  watch                    Follow the node's publish feed

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.StringVar(&hostPort, "host", "127.0.0.1:8444", "host:port of the node")
	flag.StringVar(&apiKey, "key", os.Getenv("SYNDIC_API_KEY"), "api key (defaults to SYNDIC_API_KEY)")
	flag.BoolVar(&skipVerify, "skip-verify", false, "skip TLS certificate verification")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	if apiKey == "" {
		color.Red("no api key: pass --key or set SYNDIC_API_KEY")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c, err := client.NewClient(&client.Config{
		HostPort:   hostPort,
		ApiKey:     apiKey,
		SkipVerify: skipVerify,
		Timeout:    timeout,
		Logger:     logger,
	})
	if err != nil {
		color.Red("client error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, args); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string) error {
	switch args[0] {
	case "ping":
		if err := c.Ping(ctx); err != nil {
			return err
		}
		color.Green("ok")
		return nil

	case "index":
		uuids, err := c.EventIndex(ctx)
		if err != nil {
			return err
		}
		if len(uuids) == 0 {
			color.Yellow("no events visible")
			return nil
		}
		for _, uuid := range uuids {
			fmt.Println(uuid)
		}
		return nil

	case "fetch":
		if len(args) < 2 {
			return fmt.Errorf("fetch requires an event uuid")
		}
		set, err := c.FetchEvent(ctx, args[1], true)
		if err != nil {
			return err
		}
		printSet(set)
		return nil

	case "create":
		if len(args) < 2 {
			return fmt.Errorf("create requires a JSON file")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("invalid event file: %w", err)
		}
		uuid, err := c.CreateEvent(ctx, &ev)
		if err != nil {
			return err
		}
		color.Green("created %s", uuid)
		return nil

	case "publish":
		if len(args) < 2 {
			return fmt.Errorf("publish requires an event uuid")
		}
		if err := c.Publish(ctx, args[1]); err != nil {
			return err
		}
		color.Green("published %s", args[1])
		return nil

	case "push", "pull":
		if len(args) < 2 {
			return fmt.Errorf("%s requires a link name", args[0])
		}
		var res *models.Result
		var err error
		switch {
		case args[0] == "push" && len(args) >= 3:
			res, err = c.TriggerPushEvent(ctx, args[1], args[2])
		case args[0] == "push":
			res, err = c.TriggerPushAll(ctx, args[1])
		case len(args) >= 3:
			res, err = c.TriggerPullEvent(ctx, args[1], args[2])
		default:
			res, err = c.TriggerPullAll(ctx, args[1])
		}
		if err != nil {
			return err
		}
		printResult(res)
		return nil

	case "watch":
		color.Cyan("watching publish feed on %s (ctrl-c to stop)", hostPort)
		return c.SubscribeFeed(ctx, func(fe models.FeedEvent) {
			fmt.Printf("%s  %s  %s\n",
				fe.EmittedAt.Format(time.RFC3339),
				color.CyanString(fe.Topic),
				fe.EventUUID)
		})

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printSet(set *models.PropagationSet) {
	ev := set.Event
	color.Cyan("event %s", ev.UUID)
	fmt.Printf("  info:          %s\n", ev.Info)
	fmt.Printf("  org:           %s\n", ev.OrgID)
	fmt.Printf("  distribution:  %s\n", ev.Distribution)
	fmt.Printf("  published:     %v\n", ev.Published)
	fmt.Printf("  locked:        %v\n", ev.Locked)
	fmt.Printf("  attributes:    %d\n", len(ev.Attributes))
	fmt.Printf("  objects:       %d\n", len(ev.Objects))
	fmt.Printf("  reports:       %d\n", len(ev.Reports))
	fmt.Printf("  proposals:     %d\n", len(ev.Proposals))
	fmt.Printf("  tags:          %d\n", len(ev.Tags))
	fmt.Printf("  clusters:      %d\n", len(set.Clusters))
	fmt.Printf("  sightings:     %d\n", len(set.Sightings))
	fmt.Printf("  notes:         %d\n", len(set.Notes))
}

func printResult(res *models.Result) {
	if res.Success {
		color.Green("success: %d transferred", res.Transferred)
	} else {
		color.Yellow("partial: %d transferred, %d errors", res.Transferred, len(res.Errors))
		for _, e := range res.Errors {
			color.Red("  %s", e)
		}
	}
}
