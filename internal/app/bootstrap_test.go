package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infra"
	"orderflow/internal/infra/storage"
	"orderflow/internal/service"

	"github.com/gorilla/websocket"
)

func TestFeedHeader(t *testing.T) {
	cfg := infra.Defaults()
	cfg.Feed.Headers = map[string]string{"X-Client": "desk"}
	cfg.Feed.AuthToken = "Bearer abc"

	h := FeedHeader(&cfg)
	if h.Get("Authorization") != "Bearer abc" || h.Get("X-Client") != "desk" {
		t.Errorf("header = %v", h)
	}

	cfg.Feed.AuthHeader = "X-Token"
	cfg.Feed.AuthToken = "abc"
	if h := FeedHeader(&cfg); h.Get("X-Token") != "abc" || h.Get("Authorization") != "" {
		t.Errorf("custom auth header = %v", h)
	}
}

func TestMetricsObserver(t *testing.T) {
	m := &infra.Metrics{}
	o := metricsObserver{metrics: m}

	o.OnStateChange(domain.StateChange{From: domain.StateConnecting, To: domain.StateConnected})
	if !m.Snapshot().Connected {
		t.Error("connected gauge not set")
	}
	o.OnStateChange(domain.StateChange{From: domain.StateConnected, To: domain.StateReconnecting})
	o.OnLatency(20 * time.Millisecond)

	snap := m.Snapshot()
	if snap.Connected || snap.Reconnects != 1 || snap.LastLatency != 20*time.Millisecond {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestConnectedNotifier_NeverBlocks(t *testing.T) {
	n := make(connectedNotifier, 1)
	for i := 0; i < 3; i++ {
		n.OnStateChange(domain.StateChange{To: domain.StateConnected})
	}
	n.OnStateChange(domain.StateChange{To: domain.StateReconnecting})
	if len(n) != 1 {
		t.Errorf("pending signals = %d, want 1", len(n))
	}
}

func TestBootstrap_RestoresDisplayPreferences(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "orderflow.db")

	prev, err := storage.NewStorage(dbPath, "earlier", 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := prev.SavePreference(service.PrefPalette, "colorblind"); err != nil {
		t.Fatal(err)
	}
	if err := prev.SavePreference(service.PrefSizeClass, "small"); err != nil {
		t.Fatal(err)
	}
	if err := prev.Close(); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "storage:\n  path: " + dbPath + "\n" +
		"logging:\n  dir: " + filepath.Join(dir, "logs") + "\n  level: error\n" +
		"renderer:\n  width: 200\n  height: 100\n  palette: neon\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	b := NewBootstrap()
	if err := b.Initialize(context.Background(), cfgPath); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Shutdown()

	cfg := b.Renderer.Paint(time.Now()).Config
	if cfg.Palette != domain.PaletteColorblind || cfg.SizeClass != domain.SizeSmall {
		t.Errorf("renderer = %q/%q, want saved colorblind/small", cfg.Palette, cfg.SizeClass)
	}
}

// feedServer answers change_symbol with a confirmation, an open market_status and
// one depth snapshot. The status overrides the local market-hours guess.
func feedServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctrl struct {
				Type   string `json:"type"`
				Symbol string `json:"symbol"`
			}
			if json.Unmarshal(data, &ctrl) != nil || ctrl.Type != "change_symbol" {
				continue
			}
			conn.WriteJSON(map[string]any{"type": "symbol_changed", "symbol": ctrl.Symbol, "data_mode": "live"})
			conn.WriteJSON(map[string]any{"type": "market_status", "is_market_hours": true})
			conn.WriteJSON(map[string]any{
				"type":   "depth_update",
				"symbol": ctrl.Symbol,
				"bids":   [][]any{{"2500.05", 120}, {"2500.00", 300}},
				"asks":   [][]any{{"2500.10", 80}},
			})
		}
	}))
}

func TestBootstrap_EndToEnd(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "feed:\n  ws_url: " + "ws" + strings.TrimPrefix(srv.URL, "http") + "\n" +
		"session:\n  instrument: RELIANCE\n" +
		"storage:\n  path: " + filepath.Join(dir, "orderflow.db") + "\n" +
		"logging:\n  dir: " + filepath.Join(dir, "logs") + "\n  level: error\n" +
		"renderer:\n  width: 200\n  height: 100\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBootstrap()
	if err := b.Initialize(ctx, cfgPath); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Shutdown()

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		snap := b.Book.Snapshot()
		if snap != nil && b.Session.Status().Confirmed {
			if spread, ok := snap.Spread(); !ok || spread.String() != "0.05" {
				t.Errorf("spread = %s (%v), want 0.05", spread, ok)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no confirmed book; status = %+v", b.Session.Status())
		case <-time.After(20 * time.Millisecond):
		}
	}

	if st := b.Session.Status(); st.Instrument != "RELIANCE" || st.State != "connected" {
		t.Errorf("status = %+v", st)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
