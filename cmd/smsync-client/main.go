package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"smsync/internal/client"
	"smsync/internal/config"
	"smsync/internal/model"
)

// smsync-client sends one SMS and follows its delivery status: the view is
// reprinted on every update (optimistic entry, poll result, push event) and
// the process exits once the send reaches a terminal status.
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 3 {
		log.Fatalf("usage: %s <recipient> <text...>", os.Args[0])
	}
	recipient := os.Args[1]
	text := strings.Join(os.Args[2:], " ")

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal(err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	views := make(chan []model.Message, 16)
	syncer := client.NewSyncer(
		client.NewAPIClient(cfg.APIBaseURL),
		client.NewSenderClient(cfg.SenderURL),
		func(_ string, view []model.Message) {
			select {
			case views <- view:
			default:
			}
		},
		client.SyncerConfig{},
	)
	defer syncer.CancelPolls()

	listener := client.NewPushListener(rdb, cfg.Redis.PushChannelPrefix)
	unsubscribe, err := listener.Subscribe(recipient, func(ev model.PushEvent) {
		syncer.HandlePush(recipient, ev)
	})
	if err != nil {
		slog.Warn("push channel unavailable, polling only", "error", err)
	} else {
		defer unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sent, err := syncer.Send(ctx, recipient, text)
	if err != nil {
		log.Fatalf("send: %v", err)
	}
	slog.Info("send accepted", "recipient", recipient, "correlationId", sent.CorrelationID)

	for {
		select {
		case view := <-views:
			printView(view)
			if confirmed(view, sent.CorrelationKey()) {
				return
			}
		case <-ctx.Done():
			slog.Warn("no terminal status before timeout", "correlationId", sent.CorrelationID)
			return
		}
	}
}

// confirmed reports whether the sent message reached a terminal status in
// the given view.
func confirmed(view []model.Message, correlationKey string) bool {
	for _, m := range view {
		if m.CorrelationKey() == correlationKey && m.Status.Terminal() {
			return true
		}
	}
	return false
}

func printView(view []model.Message) {
	fmt.Println("---")
	for _, m := range view {
		fmt.Printf("%s  %-8s  %s\n", m.CreatedAt.Format(time.RFC3339), m.Status, m.Text)
	}
}
