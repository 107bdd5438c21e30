package sheetfeed

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"txn-density-map/pkg/logger"
	"txn-density-map/pkg/pipeline"
	"txn-density-map/pkg/snapshot"
)

const defaultInterval = 5 * time.Minute

// Start runs the poll loop until ctx ends. The first fetch happens
// immediately so the dashboard has data right after boot; after that, one
// fetch per interval plus one per kick signal from the refresh endpoint.
// Every cycle logs through the buffered logger: a healthy cycle collapses
// to one line, a failed one replays its details.
func Start(ctx context.Context, client *Client, store *snapshot.Store, interval time.Duration, kick <-chan struct{}, logf func(string, ...any)) {
	if logf == nil {
		logf = log.Printf
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	logf("sheetfeed poller start: url=%s interval=%s", client.URL(), interval)

	go func() {
		poll(ctx, client, store)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll(ctx, client, store)
			case <-kick:
				poll(ctx, client, store)
			}
		}
	}()
}

// poll performs one fetch-and-rebuild cycle. Upstream trouble is recorded
// on the snapshot and the previous result keeps being served; the pipeline
// never sees a batch the decoder could not vouch for. A healthy fetch
// clears any recorded trouble again even when the body is unchanged, so
// the dashboard status recovers without waiting for the sheet to change.
func poll(ctx context.Context, client *Client, store *snapshot.Store) {
	cycle := uuid.NewString()[:6]
	logger.Begin(cycle)
	logger.Append(cycle, fmt.Sprintf("[%s][poll] fetching %s", cycle, client.URL()))

	body, hash, err := client.Fetch(ctx)
	if err != nil {
		store.SetError(err)
		logger.FlushError(cycle, err)
		return
	}
	logger.Append(cycle, fmt.Sprintf("[%s][poll] fetched %d bytes hash=%s", cycle, len(body), hash[:12]))

	if hash == store.Current().ContentHash {
		store.ClearError()
		logger.Success(cycle, fmt.Sprintf("unchanged hash=%s", hash[:12]))
		return
	}

	records, err := pipeline.DecodeBatch(body)
	if err != nil {
		store.SetError(err)
		logger.FlushError(cycle, err)
		return
	}
	logger.Append(cycle, fmt.Sprintf("[%s][poll] decoded %d records", cycle, len(records)))

	result := pipeline.Run(records)
	snap := store.Update(hash, result)

	st := result.Stats
	logger.Success(cycle, fmt.Sprintf(
		"received %d rejected %d duplicates %d survivors %d buckets %d pincodes %d version %s",
		st.Received, st.Rejected, st.Duplicates, st.Survivors,
		len(result.Buckets), len(result.Pincodes), snap.Version,
	))
}
