package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/processor"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/store"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/usage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const uplink = `{"dev_eui":"70b3d57ed0001a2b","reported_at":%d,"decoded":{"status":"%s","payload":[{"value":"%s"},{"value":"0"},{"value":"9"}]}}`

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(ctx))
	require.NoError(t, s.PutAssociation(ctx, "70b3d57ed0001a2b", decimal.NewFromInt(15),
		[]store.Port{{DeviceID: "laser-01"}}))

	engine, err := usage.NewEngine(usage.DefaultVolts, usage.DefaultThresholds())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Handlers{
		Log:       logger,
		Processor: processor.NewProcessor(s, s, engine, processor.WithLogger(logger)),
		Store:     s,
	}
	return NewRouter(h, nil, true), s
}

func post(t *testing.T, router http.Handler, body string) (*httptest.ResponseRecorder, models.Result) {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader(body)))

	var res models.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return rr, res
}

func TestIngestAndReadSummary(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, res := post(t, router, fmt.Sprintf(uplink, 1700000000, "success", "6"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, res.Success)
	require.NotNil(t, res.Result)
	require.Equal(t, http.StatusOK, res.Result.StatusCode)

	rr, res = post(t, router, fmt.Sprintf(uplink, 1700000900, "success", "0.5"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, res.Success)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/machines/laser-01/summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var row models.SummaryRow
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &row))
	require.Equal(t, "laser-01", row.DeviceID)
	require.Equal(t, int64(2), row.UsefulInformation.Counted)
	require.True(t, row.UsefulInformation.TotalEnergy.Equal(decimal.NewFromInt(390)))
	require.True(t, row.UsefulInformation.AverageEnergy.Equal(decimal.NewFromInt(195)))
	require.True(t, row.UsefulInformation.TotalTimeOff.Equal(decimal.NewFromInt(15)))
	require.True(t, row.UsefulInformation.TotalTimeUsed.Equal(decimal.NewFromInt(15)))
}

func TestIngestDecodeFailure(t *testing.T) {
	router, s := newTestRouter(t)

	rr, res := post(t, router, fmt.Sprintf(uplink, 1700000000, "failure", "6"))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.False(t, res.Success)
	require.Equal(t, "failed to decode", res.Reason)

	rows, err := s.FindAllForMachine(context.Background(), "laser-01")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestIngestDecodeFailureWithGarbagePayload(t *testing.T) {
	router, s := newTestRouter(t)

	for _, body := range []string{
		`{"dev_eui":"70b3d57ed0001a2b","decoded":{"status":"failure","payload":[{"value":"n/a"}]}}`,
		`{"dev_eui":"70b3d57ed0001a2b","decoded":{"status":"error","payload":"checksum mismatch"}}`,
	} {
		rr, res := post(t, router, body)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, body)
		require.False(t, res.Success)
		require.Equal(t, "failed to decode", res.Reason)
	}

	rows, err := s.FindAllForMachine(context.Background(), "laser-01")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestIngestNonNumericCurrent(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, res := post(t, router, `{"dev_eui":"70b3d57ed0001a2b","decoded":{"status":"success","payload":[{"value":"n/a"},{"value":"0"},{"value":"1"}]}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, res.Reason, "malformed payload")
}

func TestIngestErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, _ := post(t, router, `{"dev_eui":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = post(t, router, `{"dev_eui":"70b3d57ed0001a2b","decoded":{"status":"success","payload":[{"value":"1"}]}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, res := post(t, router, `{"dev_eui":"0000000000000000","decoded":{"status":"success","payload":[{"value":"1"},{"value":"1"},{"value":"1"}]}}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, res.Reason, "association not found")
}

func TestSummaryNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/machines/laser-99/summary", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth(t *testing.T) {
	router, s := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, s.Close())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestIngestRouteDisabled(t *testing.T) {
	h := &Handlers{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	router := NewRouter(h, nil, false)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader("{}")))
	require.NotEqual(t, http.StatusOK, rr.Code)
}

func TestStatusForError(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusForError(processor.ErrMalformedPayload))
	require.Equal(t, http.StatusNotFound, statusForError(store.ErrAssociationNotFound))
	require.Equal(t, http.StatusUnprocessableEntity, statusForError(store.ErrInvalidAssociation))
	require.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}
