package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

func testPayload() Payload {
	return Payload{
		UserID:   "user-1",
		CallType: domain.CallTypeDailyReckoning,
		Type:     domain.PushTypeCall,
		CallUUID: "call-1",
		Urgency:  domain.UrgencyHigh,
		Mood:     "Encouraging",
		Metadata: Metadata{
			GeneratedAt: time.Date(2026, time.March, 10, 20, 0, 0, 0, time.UTC),
			Version:     "1.0.0",
		},
	}
}

func TestHTTPTransportSendSuccess(t *testing.T) {
	t.Parallel()

	var (
		gotBody pushRequest
		gotAuth string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"status":"ok"}}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(server.URL, "secret-token")
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	payload := testPayload()
	if err := transport.Send(context.Background(), "ExponentPushToken[abc]", payload); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
	}
	if gotBody.To != "ExponentPushToken[abc]" {
		t.Fatalf("request.to = %q, want destination", gotBody.To)
	}
	if gotBody.Priority != "high" {
		t.Fatalf("request.priority = %q, want high", gotBody.Priority)
	}
	if gotBody.Data.CallUUID != payload.CallUUID {
		t.Fatalf("request.data.callUUID = %q, want %q", gotBody.Data.CallUUID, payload.CallUUID)
	}
	if gotBody.Data.Type != domain.PushTypeCall {
		t.Fatalf("request.data.type = %q, want %q", gotBody.Data.Type, domain.PushTypeCall)
	}
	if gotBody.Data.Metadata.Version != "1.0.0" {
		t.Fatalf("request.data.metadata.version = %q, want 1.0.0", gotBody.Data.Metadata.Version)
	}
}

func TestHTTPTransportSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "gone device is permanent", statusCode: http.StatusGone, wantTransient: false},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			transport, err := NewHTTPTransport(server.URL, "")
			if err != nil {
				t.Fatalf("NewHTTPTransport() error = %v", err)
			}

			err = transport.Send(context.Background(), "device-1", testPayload())
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var pushErr *Error
			if !errors.As(err, &pushErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if pushErr.StatusCode != tc.statusCode {
				t.Fatalf("Error.StatusCode = %d, want %d", pushErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestHTTPTransportSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	transport, err := NewHTTPTransportWithClient(server.URL, "", client)
	if err != nil {
		t.Fatalf("NewHTTPTransportWithClient() error = %v", err)
	}

	err = transport.Send(context.Background(), "device-1", testPayload())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestHTTPTransportRejectsBlankDestination(t *testing.T) {
	t.Parallel()

	transport, err := NewHTTPTransport("http://push.invalid/send", "")
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	err = transport.Send(context.Background(), "  ", testPayload())
	if err == nil {
		t.Fatal("expected error for blank destination")
	}
	if IsTransient(err) {
		t.Fatal("blank destination should be permanent")
	}
}

func TestNewHTTPTransportValidatesEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPTransport("", ""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPTransport("not a url", ""); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}
