// Command eventpub publishes synthetic cancellation outcome events to the
// NATS upstream, for exercising a relay and assetctl without the platform.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
)

var (
	natsURL   = pflag.String("nats", nats.DefaultURL, "NATS server URL")
	subject   = pflag.String("subject", "/event/AssetCancelInitiatedEvent", "Subject the relay listens on")
	requestID = pflag.String("request-id", "", "RequestId to report (random when empty)")
	hasErrors = pflag.Bool("error", false, "Report the cancellation as failed")
	detail    = pflag.String("detail", "", "ErrorDetail for a failed cancellation")
	count     = pflag.Int("count", 1, "Number of events to publish")
	interval  = pflag.Duration("interval", 0, "Delay between events")
)

func buildEvent(requestID string, hasErrors bool, detail string, replayID int64, now time.Time) ([]byte, error) {
	ev := entity.EventPayload{
		Schema: "AssetCancelInitiatedEvent",
		Payload: entity.CancellationResult{
			RequestID:   requestID,
			HasErrors:   hasErrors,
			CreatedDate: now.UTC().Format(time.RFC3339),
		},
	}
	if hasErrors {
		ev.Payload.ErrorDetail = detail
	}
	ev.Event.ReplayID = &replayID
	return json.Marshal(ev)
}

func main() {
	pflag.Parse()

	if *count < 1 {
		log.Fatal("--count must be at least 1")
	}

	nc, err := nats.Connect(*natsURL, nats.Name("eventpub"))
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	for i := 0; i < *count; i++ {
		id := *requestID
		if id == "" || *count > 1 {
			id = uuid.NewString()
		}
		body, err := buildEvent(id, *hasErrors, *detail, int64(i+1), time.Now())
		if err != nil {
			log.Fatalf("Failed to encode event: %v", err)
		}
		if err := nc.Publish(*subject, body); err != nil {
			log.Fatalf("Failed to publish: %v", err)
		}
		fmt.Println(id)

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	if err := nc.Flush(); err != nil {
		log.Fatalf("Failed to flush: %v", err)
	}
}
