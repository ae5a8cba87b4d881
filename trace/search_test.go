package trace

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedTraces 依次创建三条 Trace，每条间隔 1s
func seedTraces(t *testing.T) (Tracer, *fakeClock, []*TraceRef) {
	t.Helper()
	clock := newFakeClock()
	tr, _ := newTestTracer(t, WithClock(clock.Now))

	users := tr.StartTrace("GET /api/users", WithTag("tenant", "a"))
	_, err := tr.CreateChildSpan(users.SpanIDs[0], "select", WithService("user-service"), WithTag("db", "mysql"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	orders := tr.StartTrace("POST /api/orders", WithTag("tenant", "b"))
	failed, err := tr.CreateChildSpan(orders.SpanIDs[0], "charge", WithService("payment"))
	require.NoError(t, err)
	require.NoError(t, tr.FinishSpan(failed.SpanID, WithError(errors.New("declined"))))

	clock.Advance(time.Second)
	health := tr.StartTrace("GET /api/health/live")

	clock.Advance(500 * time.Millisecond)
	return tr, clock, []*TraceRef{users, orders, health}
}

func traceIDs(summaries []*TraceSummary) []string {
	ids := make([]string, len(summaries))
	for i, s := range summaries {
		ids[i] = s.TraceID
	}
	return ids
}

func TestSearchOrderAndSummary(t *testing.T) {
	tr, _, refs := seedTraces(t)

	all := tr.Search(Filter{})
	assert.Equal(t, []string{refs[2].TraceID, refs[1].TraceID, refs[0].TraceID}, traceIDs(all), "按开始时间倒序")

	users := all[2]
	assert.Equal(t, "GET /api/users", users.OperationName)
	assert.Equal(t, []string{"gateway", "user-service"}, users.Services)
	assert.Equal(t, 2, users.SpanCount)
	assert.Equal(t, StatusOK, users.Status)
	assert.Equal(t, 2500*time.Millisecond, users.Duration)
}

func TestSearchFilters(t *testing.T) {
	tr, clock, refs := seedTraces(t)
	start := clock.Now().Add(-2500 * time.Millisecond)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "service", filter: Filter{ServiceName: "payment"}, want: []string{refs[1].TraceID}},
		{name: "service no partial match", filter: Filter{ServiceName: "pay"}, want: []string{}},
		{name: "status", filter: Filter{Status: StatusError}, want: []string{refs[1].TraceID}},
		{name: "operation substring", filter: Filter{OperationName: "/api/"}, want: []string{refs[2].TraceID, refs[1].TraceID, refs[0].TraceID}},
		{name: "operation", filter: Filter{OperationName: "health"}, want: []string{refs[2].TraceID}},
		{name: "start from", filter: Filter{StartFrom: start.Add(time.Second)}, want: []string{refs[2].TraceID, refs[1].TraceID}},
		{name: "start to", filter: Filter{StartTo: start.Add(time.Second)}, want: []string{refs[1].TraceID, refs[0].TraceID}},
		{name: "min duration", filter: Filter{MinDuration: 2 * time.Second}, want: []string{refs[0].TraceID}},
		{name: "max duration", filter: Filter{MaxDuration: time.Second}, want: []string{refs[2].TraceID}},
		{name: "tags on any span", filter: Filter{Tags: map[string]string{"db": "mysql"}}, want: []string{refs[0].TraceID}},
		{name: "tags must match same span", filter: Filter{Tags: map[string]string{"db": "mysql", "tenant": "a"}}, want: []string{}},
		{name: "limit", filter: Filter{Limit: 1}, want: []string{refs[2].TraceID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, traceIDs(tr.Search(tt.filter)))
		})
	}
}
