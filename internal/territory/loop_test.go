package territory_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/territory/internal/territory"
)

func TestDetectLoopClosesAtMinimumGap(t *testing.T) {
	path := []string{"A", "B", "C", "D", "E", "A"}

	loop, ok := territory.DetectLoop(path, 5)
	require.True(t, ok)
	require.Equal(t, 0, loop.StartIndex)
	require.Equal(t, 5, loop.EndIndex)
	require.Equal(t, []string{"A", "B", "C", "D", "E", "A"}, loop.Boundary)
}

func TestDetectLoopIgnoresShortRevisit(t *testing.T) {
	_, ok := territory.DetectLoop([]string{"A", "B", "A"}, 5)
	require.False(t, ok)
}

func TestDetectLoopShortRevisitResetsReference(t *testing.T) {
	// A revisited at 2 (gap 2) moves the reference, so index 6 is only 4 away.
	path := []string{"A", "B", "A", "C", "D", "E", "A"}
	_, ok := territory.DetectLoop(path, 5)
	require.False(t, ok)

	loop, ok := territory.DetectLoop(append(path, "F", "A"), 5)
	require.False(t, ok, "gap from 6 to 8 is 2")
	require.Empty(t, loop.Boundary)

	loop, ok = territory.DetectLoop(path, 4)
	require.True(t, ok)
	require.Equal(t, 2, loop.StartIndex)
	require.Equal(t, 6, loop.EndIndex)
}

func TestDetectLoopEarliestClosingIndexWins(t *testing.T) {
	// B closes at 6 (gap 5) before A closes at 9 (gap 9), even though A's loop is larger.
	path := []string{"A", "B", "C", "D", "E", "F", "B", "G", "H", "A"}
	loop, ok := territory.DetectLoop(path, 5)
	require.True(t, ok)
	require.Equal(t, 1, loop.StartIndex)
	require.Equal(t, 6, loop.EndIndex)
	require.Equal(t, path[1:7], loop.Boundary)
}

func TestDetectLoopBoundaryIsACopy(t *testing.T) {
	path := []string{"A", "B", "C", "A"}
	loop, ok := territory.DetectLoop(path, 3)
	require.True(t, ok)
	path[0] = "Z"
	require.Equal(t, "A", loop.Boundary[0])
}

func TestDetectLoopShortPathsNeverLoop(t *testing.T) {
	for n := 0; n <= 5; n++ {
		path := make([]string, n)
		for i := range path {
			path[i] = "A"
		}
		_, ok := territory.DetectLoop(path, n)
		require.False(t, ok, "length %d", n)
	}
}

// bruteForceLoop checks every index against its nearest prior occurrence.
func bruteForceLoop(path []string, minLen int) (int, int, bool) {
	for j := range path {
		for i := j - 1; i >= 0; i-- {
			if path[i] == path[j] {
				if j-i >= minLen {
					return i, j, true
				}
				break
			}
		}
	}
	return 0, 0, false
}

func TestDetectLoopMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []string{"a", "b", "c", "d", "e", "f", "g"}
	for iter := 0; iter < 500; iter++ {
		path := make([]string, rng.Intn(30))
		for i := range path {
			path[i] = alphabet[rng.Intn(len(alphabet))]
		}
		minLen := 1 + rng.Intn(8)

		i, j, want := bruteForceLoop(path, minLen)
		loop, got := territory.DetectLoop(path, minLen)
		require.Equal(t, want, got, "path=%v min=%d", path, minLen)
		if want {
			require.Equal(t, i, loop.StartIndex)
			require.Equal(t, j, loop.EndIndex)
			require.Equal(t, path[i:j+1], loop.Boundary)
		}

		again, _ := territory.DetectLoop(path, minLen)
		require.Equal(t, loop, again)
	}
}
