package pipeline

import (
	"testing"

	"ScriptToMovie-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSceneWindows(t *testing.T) {
	scenes := []models.Scene{
		{SceneNumber: 1, Duration: 5},
		{SceneNumber: 2, Duration: 10},
		{SceneNumber: 3}, // 没写时长 → 8 秒
	}
	windows := sceneWindows(scenes)
	require.Len(t, windows, 3)

	assert.Equal(t, 0.0, windows[0].start)
	assert.Equal(t, 5.0, windows[0].end)
	assert.Equal(t, 5.0, windows[1].start)
	assert.Equal(t, 15.0, windows[1].end)
	assert.Equal(t, 15.0, windows[2].start)
	assert.Equal(t, 23.0, windows[2].end)

	// 窗口首尾相接，无缝隙无重叠
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].end, windows[i].start)
	}
}

func TestCandidateTimestamps(t *testing.T) {
	t.Run("long window capped at five samples", func(t *testing.T) {
		ts := candidateTimestamps(0, 10)
		require.Len(t, ts, framesPerScene)
		// 首尾各掐 10%：取样落在 [1, 9]
		assert.InDelta(t, 1.0, ts[0], 0.001)
		assert.InDelta(t, 9.0, ts[len(ts)-1], 0.001)
		for i := 1; i < len(ts); i++ {
			assert.Greater(t, ts[i], ts[i-1])
		}
	})

	t.Run("short window yields one sample per second", func(t *testing.T) {
		ts := candidateTimestamps(5, 8)
		assert.Len(t, ts, 3)
		for _, v := range ts {
			assert.GreaterOrEqual(t, v, 5.0)
			assert.LessOrEqual(t, v, 8.0)
		}
	})

	t.Run("sub second window yields single sample", func(t *testing.T) {
		ts := candidateTimestamps(2, 2.5)
		require.Len(t, ts, 1)
		assert.GreaterOrEqual(t, ts[0], 2.0)
		assert.Less(t, ts[0], 2.5)
	})

	t.Run("empty window yields nothing", func(t *testing.T) {
		assert.Empty(t, candidateTimestamps(3, 3))
		assert.Empty(t, candidateTimestamps(5, 3))
	})
}
