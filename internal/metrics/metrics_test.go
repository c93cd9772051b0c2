package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInstrumentsAreRegistered(t *testing.T) {
	InstrumentTaskSetCreated("increase")
	InstrumentTaskSetRefused("decrease")
	InstrumentTaskSetCompleted("increase", 3*time.Millisecond)
	InstrumentLODTransition("increase")
	InstrumentFrame(12, 7, 4000, time.Millisecond)
	InstrumentBuild(nil, time.Second)
	InstrumentBuild(errors.New("boom"), time.Second)
	InstrumentLevelBytes(2, 1024)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"terrain_task_sets_created_total",
		"terrain_task_sets_refused_total",
		"terrain_task_sets_completed_total",
		"terrain_task_duration_seconds",
		"terrain_lod_transitions_total",
		"terrain_active_patches",
		"terrain_visible_patches",
		"terrain_frame_triangles",
		"terrain_frame_update_seconds",
		"terrain_triangulation_build_seconds",
		"terrain_triangulation_level_bytes",
	} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered", want)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	InstrumentFrame(3, 2, 10, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "terrain_active_patches 3") {
		t.Errorf("expected active patch gauge in output")
	}
}
