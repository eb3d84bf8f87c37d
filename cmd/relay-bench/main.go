// Command relay-bench attaches many clients to a relay, publishes events
// through the NATS upstream and reports delivery and latency.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/moroshma/AssetRelay/internal/bench"
	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayclient"
)

var (
	relayURL  = pflag.String("relay", "ws://localhost:5000/ws", "Relay URL (ws://... or host:port for grpc)")
	transport = pflag.String("transport", relayclient.TransportWebSocket, "Relay transport: ws or grpc")
	natsURL   = pflag.String("nats", nats.DefaultURL, "NATS server the relay subscribes to")
	subject   = pflag.String("subject", "/event/AssetCancelInitiatedEvent", "Subject the relay listens on")
	clients   = pflag.Int("clients", 50, "Number of relay clients")
	events    = pflag.Int("events", 1000, "Number of events to publish")
	rps       = pflag.Int("rate", 200, "Publish rate in events per second")
	drain     = pflag.Duration("drain", 3*time.Second, "How long to wait for stragglers after publishing")
	output    = pflag.String("output", "", "Write the JSON result to this file")
)

// benchEvent is the body published upstream. SentAt lets every client
// compute its own delivery latency.
type benchEvent struct {
	Payload struct {
		RequestID string `json:"RequestId"`
		HasErrors bool   `json:"HasErrors"`
		SentAt    int64  `json:"SentAt"`
	} `json:"payload"`
}

func main() {
	pflag.Parse()

	appLogger, err := logger.New(logger.Config{Level: "warn", Format: "console", Writer: os.Stderr})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := bench.NewCollector(bench.Config{
		Clients:   *clients,
		Events:    *events,
		Transport: *transport,
		RatePerS:  *rps,
	})

	clientCtx, stopClients := context.WithCancel(ctx)
	defer stopClients()

	var wg sync.WaitGroup
	ready := make([]<-chan struct{}, 0, *clients)
	for i := 0; i < *clients; i++ {
		c, err := relayclient.New(relayclient.Config{
			URL:       *relayURL,
			Transport: *transport,
		}, appLogger)
		if err != nil {
			log.Fatalf("Failed to create relay client: %v", err)
		}
		ready = append(ready, c.Ready())

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Run(clientCtx, relayclient.HandlerFunc(func(f relayclient.Frame) {
				record(collector, f, time.Now())
			}))
			if err != nil {
				collector.RecordError()
				appLogger.Warn("Relay client stopped", logger.Error(err))
			}
		}()
	}

	for _, r := range ready {
		select {
		case <-r:
		case <-time.After(30 * time.Second):
			log.Fatal("Timed out waiting for relay clients to connect")
		case <-ctx.Done():
			return
		}
	}
	fmt.Fprintf(os.Stderr, "%d clients attached, publishing %d events\n", *clients, *events)

	if err := publish(ctx, collector); err != nil {
		log.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-time.After(*drain):
	case <-ctx.Done():
	}
	stopClients()
	wg.Wait()

	res := collector.Finalize()
	res.PrintSummary(os.Stdout)
	if *output != "" {
		if err := res.SaveToFile(*output); err != nil {
			log.Fatalf("Failed to save results: %v", err)
		}
	}
}

func publish(ctx context.Context, collector *bench.Collector) error {
	nc, err := nats.Connect(*natsURL, nats.Name("relay-bench"))
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	defer nc.Close()

	limiter := rate.NewLimiter(rate.Limit(*rps), 1)
	for i := 0; i < *events; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		var ev benchEvent
		ev.Payload.RequestID = uuid.NewString()
		ev.Payload.SentAt = time.Now().UnixNano()
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := nc.Publish(*subject, body); err != nil {
			collector.RecordError()
		}
	}
	return nc.Flush()
}

func record(collector *bench.Collector, f relayclient.Frame, now time.Time) {
	var ev benchEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil || ev.Payload.SentAt == 0 {
		return
	}
	collector.RecordDelivery(now.Sub(time.Unix(0, ev.Payload.SentAt)))
}
