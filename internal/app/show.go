package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"market-trend-alerts/internal/engine"
	"market-trend-alerts/internal/market"
)

// Show prints recent price observations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show observations")
	}
	defer closeStore()

	resources := market.Resources()
	if opts.Resource != "" {
		resource, err := market.ParseResource(opts.Resource)
		if err != nil {
			return err
		}
		resources = []market.Resource{resource}
	}

	window := opts.Window
	if window <= 0 {
		window = time.Hour
	}
	since := time.Now().UTC().Add(-window)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tResource\tBuy\tSell\tQuantity")

	total := 0
	for _, resource := range resources {
		observations, err := store.RecentObservations(ctx, resource, since)
		if err != nil {
			return err
		}
		total += len(observations)

		for _, obs := range observations {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%d\n",
				obs.ObservedAt.UTC().Format(time.RFC3339),
				resource,
				obs.Buy.StringFixed(2),
				obs.Sell.StringFixed(2),
				obs.Quantity,
			)
		}

		if rate, ok := market.Speed(observations, market.FieldBuy); ok {
			fmt.Fprintf(writer, "\t%s rate\t%s/min\t\t\n", resource, engine.SignedFixed(rate, 4))
		}
	}
	writer.Flush()

	if total == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
	}
	return nil
}
