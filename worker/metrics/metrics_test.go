package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(MetricsTestSuite))

type MetricsTestSuite struct{}

func (s *MetricsTestSuite) TestHandlerServesRecordedValues(c *gc.C) {
	m := New(3)
	m.RequestsSent.Inc()
	m.RequestsSent.Inc()
	m.RequestsReceived.Inc()
	m.PartitionEvictions.Inc()
	m.CheckpointWrites.Inc()
	m.ActiveVertices.Set(12)
	m.ObserveSuperstep(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	c.Assert(rec.Code, gc.Equals, 200)
	body := rec.Body.String()
	c.Assert(strings.Contains(body, `bspworker_requests_sent_total{worker_id="3"} 2`), gc.Equals, true)
	c.Assert(strings.Contains(body, `bspworker_requests_received_total{worker_id="3"} 1`), gc.Equals, true)
	c.Assert(strings.Contains(body, `bspworker_active_vertices{worker_id="3"} 12`), gc.Equals, true)
	c.Assert(strings.Contains(body, "bspworker_superstep_duration_seconds_bucket"), gc.Equals, true)
}

func (s *MetricsTestSuite) TestTwoWorkersDoNotCollide(c *gc.C) {
	a := New(1)
	b := New(2)
	a.RequestsSent.Inc()
	b.RequestsSent.Inc()
	b.RequestsSent.Inc()

	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, httptest.NewRequest("GET", "/metrics", nil))
	c.Assert(strings.Contains(recA.Body.String(), `bspworker_requests_sent_total{worker_id="1"} 1`), gc.Equals, true)

	recB := httptest.NewRecorder()
	b.Handler().ServeHTTP(recB, httptest.NewRequest("GET", "/metrics", nil))
	c.Assert(strings.Contains(recB.Body.String(), `bspworker_requests_sent_total{worker_id="2"} 2`), gc.Equals, true)
}
