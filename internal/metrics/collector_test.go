package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/gomixnet/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.PacketsForwarded == nil {
		t.Error("PacketsForwarded is nil")
	}
	if c.PacketsDelivered == nil {
		t.Error("PacketsDelivered is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.PacketsGenerated == nil {
		t.Error("PacketsGenerated is nil")
	}
	if c.ForwardQueueSize == nil {
		t.Error("ForwardQueueSize is nil")
	}
	if c.AuthoredQueueSize == nil {
		t.Error("AuthoredQueueSize is nil")
	}
	if c.SurbKeystoreSize == nil {
		t.Error("SurbKeystoreSize is nil")
	}
	if c.IncompleteMessages == nil {
		t.Error("IncompleteMessages is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestSessionGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetSessionFull("current", true)
	if v := gaugeValue(t, c.Sessions, "current"); v != 1 {
		t.Errorf("Sessions[current] = %v, want 1", v)
	}

	c.SetSessionFull("prev", true)
	c.SetSessionFull("current", false)

	if v := gaugeValue(t, c.Sessions, "current"); v != 0 {
		t.Errorf("Sessions[current] = %v, want 0", v)
	}
	if v := gaugeValue(t, c.Sessions, "prev"); v != 1 {
		t.Errorf("Sessions[prev] = %v, want 1", v)
	}
}

func TestPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncPacketsForwarded()
	c.IncPacketsForwarded()
	c.IncPacketsForwarded()

	if v := counterValueSimple(t, c.PacketsForwarded); v != 3 {
		t.Errorf("PacketsForwarded = %v, want 3", v)
	}

	c.IncPacketsDelivered(metrics.KindRequest)
	c.IncPacketsDelivered(metrics.KindRequest)
	c.IncPacketsDelivered(metrics.KindReply)

	if v := counterValue(t, c.PacketsDelivered, metrics.KindRequest); v != 2 {
		t.Errorf("PacketsDelivered[request] = %v, want 2", v)
	}
	if v := counterValue(t, c.PacketsDelivered, metrics.KindReply); v != 1 {
		t.Errorf("PacketsDelivered[reply] = %v, want 1", v)
	}

	c.IncPacketsDropped(metrics.ReasonReplay)

	if v := counterValue(t, c.PacketsDropped, metrics.ReasonReplay); v != 1 {
		t.Errorf("PacketsDropped[replay] = %v, want 1", v)
	}

	c.IncPacketsGenerated(metrics.KindCover)
	c.IncPacketsGenerated(metrics.KindCover)
	c.IncPacketsGenerated(metrics.KindLoop)

	if v := counterValue(t, c.PacketsGenerated, metrics.KindCover); v != 2 {
		t.Errorf("PacketsGenerated[cover] = %v, want 2", v)
	}
	if v := counterValue(t, c.PacketsGenerated, metrics.KindLoop); v != 1 {
		t.Errorf("PacketsGenerated[loop] = %v, want 1", v)
	}
}

func TestQueueGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetForwardQueueSize(42)
	c.SetAuthoredQueueSize(7)
	c.SetSurbKeystoreSize(1000)
	c.SetIncompleteMessages(3)

	if v := gaugeValueSimple(t, c.ForwardQueueSize); v != 42 {
		t.Errorf("ForwardQueueSize = %v, want 42", v)
	}
	if v := gaugeValueSimple(t, c.AuthoredQueueSize); v != 7 {
		t.Errorf("AuthoredQueueSize = %v, want 7", v)
	}
	if v := gaugeValueSimple(t, c.SurbKeystoreSize); v != 1000 {
		t.Errorf("SurbKeystoreSize = %v, want 1000", v)
	}
	if v := gaugeValueSimple(t, c.IncompleteMessages); v != 3 {
		t.Errorf("IncompleteMessages = %v, want 3", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func gaugeValueSimple(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValueSimple(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
