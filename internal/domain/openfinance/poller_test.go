package openfinance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/shared/metrics"
	"finlink/internal/shared/resilience"
)

func newTestPoller(client *MockClient) (*Poller, *[]time.Duration) {
	p := NewPoller(client, zap.NewNop(), metrics.New())
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func TestPoller_Poll(t *testing.T) {
	mfaParam := &ofclient.Parameter{Name: "token"}

	tests := []struct {
		name         string
		items        []*ofclient.Item
		maxAttempts  int
		wantStatus   connection.Status
		wantAttempts int
		wantTimedOut bool
	}{
		{
			name:         "updated on first fetch",
			items:        []*ofclient.Item{{Status: "UPDATED"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusUpdated,
			wantAttempts: 1,
		},
		{
			name:         "updating twice then updated",
			items:        []*ofclient.Item{{Status: "UPDATING"}, {Status: "UPDATING"}, {Status: "UPDATED"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusUpdated,
			wantAttempts: 3,
		},
		{
			name:         "login error stops immediately",
			items:        []*ofclient.Item{{Status: "LOGIN_ERROR"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusLoginError,
			wantAttempts: 1,
		},
		{
			name:         "outdated stops immediately",
			items:        []*ofclient.Item{{Status: "OUTDATED"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusOutdated,
			wantAttempts: 1,
		},
		{
			name:         "waiting input with payload is actionable",
			items:        []*ofclient.Item{{Status: "UPDATING"}, {Status: "WAITING_INPUT", Parameter: mfaParam}},
			maxAttempts:  5,
			wantStatus:   connection.StatusWaitingInput,
			wantAttempts: 2,
		},
		{
			name:         "waiting input without payload keeps polling",
			items:        []*ofclient.Item{{Status: "WAITING_INPUT"}, {Status: "WAITING_INPUT", Parameter: mfaParam}},
			maxAttempts:  5,
			wantStatus:   connection.StatusWaitingInput,
			wantAttempts: 2,
		},
		{
			name:         "created keeps polling",
			items:        []*ofclient.Item{{Status: "CREATED"}, {Status: "UPDATED"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusUpdated,
			wantAttempts: 2,
		},
		{
			name:         "transient errors are swallowed",
			items:        []*ofclient.Item{nil, nil, {Status: "UPDATED"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusUpdated,
			wantAttempts: 3,
		},
		{
			name:         "unknown status counts as an attempt",
			items:        []*ofclient.Item{{Status: "SOMETHING_NEW"}, {Status: "UPDATED"}},
			maxAttempts:  5,
			wantStatus:   connection.StatusUpdated,
			wantAttempts: 2,
		},
		{
			name:         "times out while updating",
			items:        []*ofclient.Item{{Status: "UPDATING"}},
			maxAttempts:  3,
			wantStatus:   connection.StatusUpdating,
			wantAttempts: 3,
			wantTimedOut: true,
		},
		{
			name:         "times out with no successful fetch",
			items:        []*ofclient.Item{nil},
			maxAttempts:  2,
			wantStatus:   "",
			wantAttempts: 2,
			wantTimedOut: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{PollItemFunc: itemSequence(tt.items...)}
			p, _ := newTestPoller(client)

			res, err := p.Poll(context.Background(), "item-1", tt.maxAttempts, time.Millisecond)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, tt.wantStatus)
			}
			if res.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", res.Attempts, tt.wantAttempts)
			}
			if res.TimedOut != tt.wantTimedOut {
				t.Errorf("TimedOut = %v, want %v", res.TimedOut, tt.wantTimedOut)
			}
			if got := client.Calls("PollItem"); got != tt.wantAttempts {
				t.Errorf("PollItem calls = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestPoller_NeverExceedsMaxAttempts(t *testing.T) {
	for k := 1; k <= 10; k++ {
		client := &MockClient{PollItemFunc: itemSequence(&ofclient.Item{Status: "UPDATING"})}
		p, slept := newTestPoller(client)

		res, err := p.Poll(context.Background(), "item-1", k, 2*time.Second)
		if err != nil {
			t.Fatalf("k=%d: Poll() error = %v", k, err)
		}
		if !res.TimedOut {
			t.Errorf("k=%d: expected TimedOut", k)
		}
		if got := client.Calls("PollItem"); got != k {
			t.Errorf("k=%d: PollItem calls = %d", k, got)
		}
		if len(*slept) != k-1 {
			t.Errorf("k=%d: slept %d times, want %d", k, len(*slept), k-1)
		}
	}
}

func TestPoller_InvalidArgs(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		maxAttempts int
		interval    time.Duration
	}{
		{"empty id", "", 1, 0},
		{"zero attempts", "item-1", 0, 0},
		{"negative interval", "item-1", 1, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			p, _ := newTestPoller(client)
			_, err := p.Poll(context.Background(), tt.id, tt.maxAttempts, tt.interval)
			if !errors.Is(err, ErrInvalidPollArgs) {
				t.Errorf("expected ErrInvalidPollArgs, got %v", err)
			}
			if client.Calls("PollItem") != 0 {
				t.Error("no fetch should happen for invalid arguments")
			}
		})
	}
}

func TestPoller_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &MockClient{PollItemFunc: func(ctx context.Context, itemID string) (*ofclient.Item, error) {
		cancel()
		return &ofclient.Item{ID: itemID, Status: "UPDATING"}, nil
	}}
	p := NewPoller(client, zap.NewNop(), nil)

	_, err := p.Poll(ctx, "item-1", 5, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if client.Calls("PollItem") != 1 {
		t.Errorf("PollItem calls = %d, want 1", client.Calls("PollItem"))
	}
}

func TestPoller_OneRequestPerAttemptWithRealClient(t *testing.T) {
	var statusGets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"apiKey":"key-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/items/item-1":
			atomic.AddInt32(&statusGets, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := ofclient.NewClient(ofclient.Config{
		BaseURL:      srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Retry:        resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond},
	}, zap.NewNop(), nil)
	p := NewPoller(client, zap.NewNop(), nil)

	const k = 4
	res, err := p.Poll(context.Background(), "item-1", k, 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !res.TimedOut || res.Attempts != k {
		t.Errorf("result = %+v, want timed out after %d attempts", res, k)
	}
	if got := atomic.LoadInt32(&statusGets); got != k {
		t.Errorf("status GETs = %d, want %d", got, k)
	}
}
