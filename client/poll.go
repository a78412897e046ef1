package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

const defaultPollInterval = 60 * time.Second

// Poller refreshes the Store from the snapshot endpoint on a fixed interval
// and once at start. It is the resilience fallback for clients whose stream
// has failed, and it runs even while the stream is healthy; the store's
// sequence gate decides which transport's data sticks.
type Poller struct {
	BaseURL  string
	Token    string
	Store    *Store
	Interval time.Duration
	HTTP     *http.Client
	Logger   *log.Logger
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if err := p.FetchOnce(ctx); err != nil {
		p.logError(err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.FetchOnce(ctx); err != nil {
				p.logError(err)
			}
		}
	}
}

// FetchOnce performs one conditional fetch carrying the held sequence number.
// A 304 leaves the store untouched; any failure keeps prior contents, since
// stale data beats empty data.
func (p *Poller) FetchOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/board", nil)
	if err != nil {
		return err
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	if seq := p.Store.Seq(); seq > 0 {
		req.Header.Set("If-None-Match", `"`+strconv.FormatInt(seq, 10)+`"`)
	}

	hc := p.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil
	case http.StatusOK:
		var snap domain.Snapshot
		if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return err
		}
		p.Store.Apply(snap)
		return nil
	default:
		return fmt.Errorf("board poll: unexpected status %d", resp.StatusCode)
	}
}

func (p *Poller) logError(err error) {
	if p.Logger != nil {
		p.Logger.WithError(err).Error("board poll failed")
	}
}
