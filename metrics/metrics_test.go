package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTransport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransport(WithRegistry(reg), WithNamespace("test"))

	m.FragmentSent(100)
	m.FragmentSent(6)
	m.FragmentReceived(50)
	m.PDUDispatched(0)
	m.PDUDispatched(0)
	m.FramingError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fragmentsSent))
	assert.Equal(t, 106.0, testutil.ToFloat64(m.bytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fragmentsReceived))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.bytesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pdusDispatched.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framingErrors))
}

func TestWorker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorker(WithRegistry(reg))

	m.QueueDepth(0, 3)
	m.Processed(0)
	m.Dropped(0, 2)
	m.Dropped(0, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("0")))
}

func TestNilRecorders(t *testing.T) {
	var tm *Transport
	var wm *Worker

	assert.NotPanics(t, func() {
		tm.FragmentSent(1)
		tm.FragmentReceived(1)
		tm.PDUDispatched(1)
		tm.FramingError()
		wm.QueueDepth(1, 1)
		wm.Processed(1)
		wm.Dropped(1, 1)
	})
}
