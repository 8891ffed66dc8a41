// feedwatch opens live subscriptions against the configured relays and
// prints matching events as JSON lines. Useful for eyeballing feeds and for
// exercising the query layer end to end.
//
// Usage:
//
//	feedwatch -hashtags bitcoin,nostr
//	feedwatch -authors <pubkey>,<pubkey>
//	feedwatch -profiles <pubkey>,<pubkey>
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	nostrclient "nostr-client"
	"nostr-client/internal/config"
	"nostr-client/internal/types"
)

func main() {
	hashtags := flag.String("hashtags", "", "comma-separated hashtags for a video feed watch")
	authors := flag.String("authors", "", "comma-separated author pubkeys for a video feed watch")
	profiles := flag.String("profiles", "", "comma-separated pubkeys for a profile watch")
	limit := flag.Int("limit", 20, "result count limit per filter")
	flag.Parse()

	nostrclient.InitLogger()

	client, err := nostrclient.New(config.Get())
	if err != nil {
		slog.Error("client init failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	printEvent := func(evt types.Event) {
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		fmt.Println(string(data))
	}
	cbs := nostrclient.SubscriptionCallbacks{
		OnEvent: printEvent,
		OnError: func(err error) {
			slog.Error("watch failed", "error", err)
		},
		OnComplete: func() {
			slog.Info("watch completed")
		},
	}

	watches := 0
	if *hashtags != "" {
		id, err := client.Feed.WatchVideoFeed(splitList(*hashtags), *limit, cbs)
		if err != nil {
			slog.Error("video feed watch failed", "error", err)
		} else {
			slog.Info("watching video feed", "id", id, "hashtags", *hashtags)
			watches++
		}
	}
	if *authors != "" {
		id, err := client.Feed.WatchAuthorVideos(splitList(*authors), *limit, cbs)
		if err != nil {
			slog.Error("author video watch failed", "error", err)
		} else {
			slog.Info("watching author videos", "id", id)
			watches++
		}
	}
	if *profiles != "" {
		id, err := client.Feed.WatchProfiles(splitList(*profiles), cbs)
		if err != nil {
			slog.Error("profile watch failed", "error", err)
		} else {
			slog.Info("watching profiles", "id", id)
			watches++
		}
	}

	if watches == 0 {
		flag.Usage()
		os.Exit(2)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	client.Manager.CancelAll()

	snap := client.Metrics.Snapshot()
	slog.Info("shutting down",
		"subscriptions_created", snap.SubscriptionsCreated,
		"events_delivered", snap.EventsDelivered,
		"batches_flushed", snap.BatchesFlushed)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
