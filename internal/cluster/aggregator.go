package cluster

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalworks/pulse/internal/model"
)

// Aggregator federates read queries across peer nodes. It is strictly
// read-side: no data is replicated, each peer serves its own buffers.
type Aggregator struct {
	Peers  []string
	Client *http.Client
}

// QueryParams carries the caller's raw query string through to peers.
type QueryParams struct {
	RawQuery string
	Limit    int
	Auth     string
}

// NewAggregator creates an aggregator over the given peer base URLs.
func NewAggregator(peers []string, timeout time.Duration) *Aggregator {
	return &Aggregator{
		Peers:  peers,
		Client: &http.Client{Timeout: timeout},
	}
}

// Records scatter-gathers /api/records across all peers, merge-sorts the
// results newest first, and truncates to the limit. Unreachable peers are
// logged and skipped; partial results beat total failure.
func (a *Aggregator) Records(params QueryParams) ([]model.ClassifiedRecord, error) {
	var mu sync.Mutex
	var all []model.ClassifiedRecord

	var g errgroup.Group
	for _, peer := range a.Peers {
		peer := peer
		g.Go(func() error {
			url := fmt.Sprintf("%s/api/records?%s", peer, params.RawQuery)
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return nil
			}
			if params.Auth != "" {
				req.Header.Set("Authorization", params.Auth)
			}

			resp, err := a.Client.Do(req)
			if err != nil {
				log.Printf("[Aggregator] peer %s unreachable: %v", peer, err)
				return nil
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				log.Printf("[Aggregator] peer %s returned status %d", peer, resp.StatusCode)
				return nil
			}

			var rows []model.ClassifiedRecord
			if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
				log.Printf("[Aggregator] peer %s decode error: %v", peer, err)
				return nil
			}
			mu.Lock()
			all = append(all, rows...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].TimestampMs > all[j].TimestampMs
	})
	if params.Limit > 0 && len(all) > params.Limit {
		all = all[:params.Limit]
	}
	return all, nil
}
