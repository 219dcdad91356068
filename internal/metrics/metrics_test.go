package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordRequest(OutcomeOK, 15*time.Millisecond)
	RecordNotification("document", NotificationDelivered)
	SetSubscriptions(2, 5)
	RecordReconnect()
	SetConnected(true)
	RecordJournal(JournalInserted, 3)

	body := scrape(t)

	for _, want := range []string{
		`kuzzle_session_requests_total{outcome="ok"}`,
		`kuzzle_session_request_duration_seconds_bucket{outcome="ok"`,
		`kuzzle_realtime_notifications_total{kind="document",outcome="delivered"}`,
		`kuzzle_realtime_rooms 2`,
		`kuzzle_realtime_observers 5`,
		`kuzzle_connection_reconnects_total`,
		`kuzzle_connection_connected 1`,
		`result="inserted"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestSetConnected_Down(t *testing.T) {
	SetConnected(false)

	if body := scrape(t); !strings.Contains(body, "kuzzle_connection_connected 0") {
		t.Error("connected gauge not reset to 0")
	}
}

func TestRegisterMetrics_Idempotent(t *testing.T) {
	// a second registration would panic with AlreadyRegisteredError
	RegisterMetrics()
	RegisterMetrics()
}
