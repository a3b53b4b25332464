package performance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceMonitor(t *testing.T) {
	rm, err := NewResourceMonitor()
	require.NoError(t, err)

	usage := rm.GetResourceUsage()
	require.NotNil(t, usage)

	assert.Positive(t, usage.GoroutineCount)
	assert.Positive(t, usage.HeapAlloc)
	assert.GreaterOrEqual(t, usage.CPUPercent, 0.0)
}
