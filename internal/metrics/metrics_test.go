package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Poll("group", "ok")
	m.Poll("group", "ok")
	m.Poll("group", "forbidden")
	m.Transition("start")
	m.SetTier(time.Minute)

	body := scrape(t, m)
	for _, want := range []string{
		`steamwatch_polls_total{loop="group",result="ok"} 2`,
		`steamwatch_polls_total{loop="group",result="forbidden"} 1`,
		`steamwatch_transitions_total{kind="start"} 1`,
		`steamwatch_tier_seconds 60`,
	} {
		assert.Contains(t, body, want)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Poll("x", "y")
		m.Transition("start")
		m.Notification("text", "sent")
		m.SetTier(time.Second)
		m.SetRules("individual", 1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Notification("meme", "sent")
	m.SetRules("individual", 3)
	body := scrape(t, m)
	assert.Contains(t, body, `steamwatch_notifications_total{path="meme",result="sent"} 1`)
	assert.Contains(t, body, `steamwatch_rules{mode="individual"} 3`)
}
