package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/failover/internal/core/config"
	"github.com/vietddude/failover/internal/core/domain"
)

func newProviderServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "PROVIDER_UNAVAILABLE", "message": "capacity reached"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(domain.VideoResult{VideoURL: "https://cdn.example/video.mp4", DurationSeconds: 30})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, providers string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
server:
  port: 0
presets:
  default:
    retry:
      max_attempts: 1
%s`, providers)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cfg
}

func TestApp_GenerateThroughProviders(t *testing.T) {
	broken := newProviderServer(t, http.StatusServiceUnavailable)
	healthy := newProviderServer(t, http.StatusOK)

	cfg := testConfig(t, fmt.Sprintf(`
providers:
  - name: primary
    url: %s
    priority: 2
  - name: backup
    url: %s
    priority: 1
`, broken.URL, healthy.URL))

	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer app.Stop(context.Background())

	if got := len(app.Selector().GetAllProviders()); got != 2 {
		t.Fatalf("expected 2 providers, got %d", got)
	}

	res := app.Engine().Generate(context.Background(), &domain.RecoveryContext{Script: "hello"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.FinalError)
	}
	if res.ProviderID != "backup" {
		t.Errorf("expected backup provider, got %s", res.ProviderID)
	}
	if res.Action != domain.ActionSwitchProvider {
		t.Errorf("expected switch_provider, got %s", res.Action)
	}
	if len(res.ErrorHistory) == 0 {
		t.Error("expected error history from primary")
	}

	stats, err := app.Engine().GetRecoveryStatistics(context.Background(), "24h")
	if err != nil {
		t.Fatalf("GetRecoveryStatistics failed: %v", err)
	}
	if stats.TotalRecoveries != 1 {
		t.Errorf("expected 1 recovery logged, got %d", stats.TotalRecoveries)
	}
}

func TestApp_StartStop(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t, ""))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := app.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
