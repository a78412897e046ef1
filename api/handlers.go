package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Config carries handler tunables.
type Config struct {
	// StreamTick is the cadence of full-snapshot re-emission on /api/stream.
	StreamTick time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, hub *Hub, logger *log.Logger, cfg Config) {
	if cfg.StreamTick <= 0 {
		cfg.StreamTick = 2 * time.Second
	}
	e.Use(GzipRequestMiddleware())

	e.GET("/api/board", getBoard(store, auth, logger))
	e.GET("/api/stream", streamBoard(store, auth, logger, cfg.StreamTick))
	e.GET("/api/ws", hub.Handler(auth))
	e.PATCH("/api/tasks/:id/status", updateStatus(store, auth))
	e.PATCH("/api/tasks/:id/position", updatePosition(store, auth))
	e.PATCH("/api/tasks/:id/due-date", updateDueDate(store, auth))
	e.PATCH("/api/tasks/:id/touch", touchTask(store, auth))
	e.GET("/healthz", healthz(store))
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
		defer cancel()
		if _, err := store.LastModified(ctx); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

// getBoard serves the full ordered snapshot. A client that presents the
// sequence number of its held snapshot (If-None-Match or ?since) gets a 304
// when the board's watermark has not moved past it.
func getBoard(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		since := sinceSeq(c)
		metrics.SetConditional(since > 0)
		if since > 0 {
			lm, lmErr := store.LastModified(ctx)
			if lmErr == nil && !lm.IsZero() && !lm.After(time.Unix(0, since)) {
				metrics.SetNotModified(true)
				err = c.NoContent(http.StatusNotModified)
				return err
			}
			// Watermark errors fall through to a full fetch.
		}

		fetchStart := time.Now()
		snap, fetchErr := store.FetchSnapshot(ctx)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(snap.Tasks))

		c.Response().Header().Set("ETag", `"`+strconv.FormatInt(snap.Seq, 10)+`"`)
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, snap)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// sinceSeq extracts the client's held sequence number from If-None-Match or
// the since query parameter. Zero means unconditional.
func sinceSeq(c echo.Context) int64 {
	raw := strings.Trim(c.Request().Header.Get("If-None-Match"), `" `)
	if raw == "" {
		raw = strings.TrimSpace(c.QueryParam("since"))
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

func taskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}
	return id, nil
}

func decodeMutationBody(c echo.Context, v any) error {
	lr := http.MaxBytesReader(nil, c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func updateStatus(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id, err := taskID(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, respError("invalid task id"))
		}
		var body struct {
			StatusID *int `json:"status_id"`
		}
		if err := decodeMutationBody(c, &body); err != nil || body.StatusID == nil {
			return c.JSON(http.StatusBadRequest, respError("status_id is required"))
		}
		if err := store.UpdateStatus(c.Request().Context(), id, *body.StatusID); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, respError("failed to update status"))
		}
		return c.JSON(http.StatusOK, respOK)
	}
}

func updatePosition(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id, err := taskID(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, respError("invalid task id"))
		}
		var body struct {
			Position *float64 `json:"position"`
		}
		if err := decodeMutationBody(c, &body); err != nil || body.Position == nil {
			return c.JSON(http.StatusBadRequest, respError("position is required"))
		}
		if err := store.UpdatePosition(c.Request().Context(), id, *body.Position); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, respError("failed to update position"))
		}
		return c.JSON(http.StatusOK, respOK)
	}
}

func updateDueDate(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id, err := taskID(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, respError("invalid task id"))
		}
		// Decoded as a map so an explicit null (clear the date) can be told
		// apart from a missing field.
		var body map[string]*string
		if err := decodeMutationBody(c, &body); err != nil {
			return c.JSON(http.StatusBadRequest, respError("invalid body"))
		}
		due, ok := body["data_fim"]
		if !ok {
			return c.JSON(http.StatusBadRequest, respError("data_fim is required"))
		}
		if due != nil {
			if _, perr := time.Parse("2006-01-02", *due); perr != nil {
				return c.JSON(http.StatusBadRequest, respError("data_fim must be YYYY-MM-DD"))
			}
		}
		if err := store.UpdateDueDate(c.Request().Context(), id, due); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, respError("failed to update due date"))
		}
		return c.JSON(http.StatusOK, respOK)
	}
}

func touchTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id, err := taskID(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, respError("invalid task id"))
		}
		if err := store.TouchTask(c.Request().Context(), id); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, respError("failed to touch task"))
		}
		return c.JSON(http.StatusOK, respOK)
	}
}
