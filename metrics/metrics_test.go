package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewExporterRegistersAllCollectors(t *testing.T) {
	e := NewExporter(0)
	e.PacketsSent.Inc()
	e.PacketsReceived.Inc()
	e.ActiveSessions.Set(3)

	mfs, err := e.registry.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 5)
}
