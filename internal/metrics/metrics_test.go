package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(portOpens.WithLabelValues("ok"))
	RecordPortOpen("ok")
	if got := testutil.ToFloat64(portOpens.WithLabelValues("ok")); got != before+1 {
		t.Errorf("port_opens_total{ok} = %v, want %v", got, before+1)
	}

	rx := testutil.ToFloat64(bytesTransferred.WithLabelValues("rx"))
	RecordBytesRead(10)
	RecordBytesRead(0)
	if got := testutil.ToFloat64(bytesTransferred.WithLabelValues("rx")); got != rx+10 {
		t.Errorf("bytes_total{rx} = %v, want %v", got, rx+10)
	}

	active := testutil.ToFloat64(sessionsActive)
	SessionOpened()
	SessionOpened()
	SessionClosed()
	if got := testutil.ToFloat64(sessionsActive); got != active+1 {
		t.Errorf("sessions_active = %v, want %v", got, active+1)
	}

	RecordReconnectAttempt(false)
	RecordTransition("Reconnecting")
	RecordTruncation()
	RecordToolCall("open_port", "ok", 5*time.Millisecond)
}

func TestHandlerServesMetrics(t *testing.T) {
	RecordBytesWritten(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "uart_mcp_bytes_total") {
		t.Errorf("metrics output missing uart_mcp_bytes_total")
	}
}
