package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

const (
	defaultStreamRetry = 2 * time.Second
	maxEventSize       = 8 * 1024 * 1024
)

var ssePrefix = []byte("data: ")

// Streamer consumes the server's event stream and applies every full-snapshot
// frame to the Store through the sequence gate. The connection is re-dialed
// with a fixed delay whenever it drops; the poller covers the gap in between.
type Streamer struct {
	BaseURL string
	Token   string
	Store   *Store
	Retry   time.Duration
	HTTP    *http.Client
	Logger  *log.Logger
}

// Run consumes the stream until ctx is cancelled, reconnecting on failure.
func (s *Streamer) Run(ctx context.Context) {
	retry := s.Retry
	if retry <= 0 {
		retry = defaultStreamRetry
	}
	for {
		if err := s.consume(ctx); err != nil && s.Logger != nil {
			s.Logger.WithError(err).Error("board stream failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func (s *Streamer) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/stream", nil)
	if err != nil {
		return err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	req.Header.Set("Accept", "text/event-stream")

	hc := s.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("board stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, ssePrefix) {
			continue
		}
		var snap domain.Snapshot
		if err := sonic.Unmarshal(line[len(ssePrefix):], &snap); err != nil {
			if s.Logger != nil {
				s.Logger.WithError(err).Warn("dropping malformed stream frame")
			}
			continue
		}
		s.Store.Apply(snap)
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
