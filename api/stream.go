package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// streamBoard serves the board over text/event-stream: one full snapshot
// immediately on subscribe, then one per tick until the client goes away. No
// diffing; each event is the complete ordered list.
//
// The per-connection ticker is owned by this handler and stopped exactly once
// via defer when the request context ends, so reconnect churn cannot leak
// background work.
func streamBoard(store Storage, auth Authenticator, logger *log.Logger, tick time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may ride a query param.
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			snap, err := store.FetchSnapshot(ctx)
			if err != nil {
				// A failed tick is logged and retried on the next one; the
				// connection and its ticker stay up.
				logger.WithError(err).Error("board snapshot fetch failed")
			} else {
				data, err := sonic.Marshal(snap)
				if err != nil {
					logger.WithError(err).Error("board snapshot marshal failed")
				} else if !writeEvent(c.Response(), flusher, data) {
					// Write failures mean the client is gone; disconnecting is
					// the normal termination path, not an error.
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				continue
			}
		}
	}
}

func writeEvent(w *echo.Response, flusher http.Flusher, data []byte) bool {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
