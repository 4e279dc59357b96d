package steam

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlotExporterNeedsExtension(t *testing.T) {
	_, err := NewPlotExporter(t.TempDir(), "cost", "cost")
	require.Error(t, err)
}

func TestPlotExporterEmpty(t *testing.T) {
	pe, err := NewPlotExporter(t.TempDir(), "cost.png", "empty")
	require.NoError(t, err)
	require.NoError(t, pe.Close())
	_, err = os.Stat(pe.Name())
	assert.True(t, os.IsNotExist(err))
}

func TestPlotExporterSolver(t *testing.T) {
	implements := func(Exporter) {}
	implements(new(PlotExporter))

	p, _, _ := anchoredPair()
	pe, err := NewPlotExporter(t.TempDir(), "cost.png", "anchored pair")
	require.NoError(t, err)
	s, err := NewLevMarqSolver(p, DefaultSolverConfig(), WithLogger(discardLogger()), WithExporter(pe))
	require.NoError(t, err)
	res, err := s.Optimize()
	require.NoError(t, err)
	assert.Equal(t, res.Iterations, pe.Len())

	require.NoError(t, pe.Close())
	info, err := os.Stat(pe.Name())
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
