// Command assetctl lists a user's assets and cancels them, waiting for the
// outcome event delivered through the relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/moroshma/AssetRelay/internal/config"
	"github.com/moroshma/AssetRelay/pkg/cancellation"
	"github.com/moroshma/AssetRelay/pkg/commerce"
	"github.com/moroshma/AssetRelay/pkg/correlator"
	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayclient"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitUnknown = 3
)

const usage = `Usage: assetctl <command> [flags]

Commands:
  whoami    show the user that owns the access token
  assets    list the user's assets
  cancel    cancel an asset and wait for the outcome
  watch     print relayed events until interrupted

Configuration is read from ASSETCTL_* environment variables.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		return exitUsage
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return exitFailed
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitFailed
	}

	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Writer: os.Stderr,
	})
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return exitFailed
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := commerce.NewClient(commerce.Config{
		InstanceURL: cfg.InstanceURL,
		AccessToken: cfg.AccessToken,
		APIVersion:  cfg.APIVersion,
		Timeout:     cfg.RequestTimeout,
	}, appLogger.Named("commerce"))
	if err != nil {
		appLogger.Error("Failed to create commerce client", logger.Error(err))
		return exitFailed
	}

	switch args[0] {
	case "whoami":
		return whoami(ctx, api)
	case "assets":
		return listAssets(ctx, api, cfg)
	case "cancel":
		return cancel(ctx, api, cfg, appLogger, args[1:])
	case "watch":
		return watch(ctx, cfg, appLogger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitUsage
	}
}

func whoami(ctx context.Context, api *commerce.Client) int {
	info, err := api.UserInfo(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	fmt.Printf("%s <%s>\nuser: %s\norg:  %s\n", info.Name, info.Email, info.UserID, info.OrganizationID)
	return exitOK
}

func listAssets(ctx context.Context, api *commerce.Client, cfg *config.ClientConfig) int {
	info, err := api.UserInfo(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	assets, err := api.ListAssets(ctx, info.UserID, cfg.PricebookID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tQTY\tPRICE\tPERIOD\tNEXT BILLING")
	for _, a := range assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%.2f\t%s\t%s\n",
			a.ID, a.Name, a.Status, a.CurrentQuantity, a.Price, a.Period, a.NextBillingDate)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	return exitOK
}

func cancel(ctx context.Context, api *commerce.Client, cfg *config.ClientConfig, appLogger *logger.Logger, args []string) int {
	fs := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
	assetID := fs.String("asset-id", "", "Asset to cancel (required)")
	name := fs.String("name", "", "Display name used in messages (defaults to the asset id)")
	date := fs.String("date", "", "Cancellation day as YYYY-MM-DD (defaults to today)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *assetID == "" {
		fmt.Fprintln(os.Stderr, "--asset-id is required")
		return exitUsage
	}
	if *name == "" {
		*name = *assetID
	}

	day := time.Now()
	if *date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", *date, time.Local)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --date: %v\n", err)
			return exitUsage
		}
		day = parsed
	}

	// The relay keeps nothing for late subscribers, so the stream must be
	// open before the request is submitted.
	corr := correlator.New(correlator.NewBuffer(cfg.BufferMaxAge), correlator.Config{
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.AwaitTimeout,
	}, appLogger.Named("correlator"))

	client, err := relayclient.New(relayclient.Config{
		URL:       cfg.RelayURL,
		Transport: cfg.RelayTransport,
		EventName: cfg.EventName,
	}, appLogger.Named("relay"))
	if err != nil {
		appLogger.Error("Failed to create relay client", logger.Error(err))
		return exitFailed
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	relayErr := make(chan error, 1)
	go func() {
		relayErr <- client.Run(relayCtx, corr)
	}()

	select {
	case <-client.Ready():
	case err := <-relayErr:
		appLogger.Error("Failed to connect to relay", logger.String("url", cfg.RelayURL), logger.Error(err))
		return exitFailed
	case <-ctx.Done():
		return exitFailed
	}

	mgr := cancellation.NewManager(api, corr, cancellation.NewWriterNotifier(os.Stdout), appLogger.Named("cancellation"))
	defer mgr.Close()

	p, err := mgr.Cancel(ctx, cancellation.Asset{ID: *assetID, Name: *name}, day)
	if err != nil {
		if errors.Is(err, commerce.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "access token was rejected")
		}
		return exitFailed
	}
	appLogger.Info("Cancellation submitted",
		logger.String("asset_id", *assetID),
		logger.String("request_id", p.RequestID),
	)

	select {
	case <-p.Done():
	case err := <-relayErr:
		// Without the stream the outcome can never arrive.
		appLogger.Error("Relay connection lost", logger.Error(err))
		fmt.Printf("Cancellation status for %s is unknown, check later.\n", *name)
		return exitUnknown
	case <-ctx.Done():
		return exitFailed
	}

	switch p.State() {
	case cancellation.StateResolvedSuccess:
		return exitOK
	case cancellation.StateResolvedUnknown:
		return exitUnknown
	default:
		return exitFailed
	}
}

func watch(ctx context.Context, cfg *config.ClientConfig, appLogger *logger.Logger) int {
	client, err := relayclient.New(relayclient.Config{
		URL:       cfg.RelayURL,
		Transport: cfg.RelayTransport,
		EventName: cfg.EventName,
	}, appLogger.Named("relay"))
	if err != nil {
		appLogger.Error("Failed to create relay client", logger.Error(err))
		return exitFailed
	}

	err = client.Run(ctx, relayclient.HandlerFunc(func(f relayclient.Frame) {
		fmt.Printf("%s %s\n", f.Event, f.Data)
	}))
	if err != nil {
		appLogger.Error("Relay stream ended", logger.Error(err))
		return exitFailed
	}
	return exitOK
}
