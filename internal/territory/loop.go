package territory

// DetectedLoop is the first qualifying self-intersection found in a cell path.
type DetectedLoop struct {
	StartIndex int      `json:"loop_start_index"`
	EndIndex   int      `json:"loop_end_index"`
	Boundary   []string `json:"boundary_hexes"`
}

// DetectLoop scans path once and returns the loop closed at the earliest index j whose cell was
// last seen at i with j-i >= minLoopLength. Shorter revisits never close a loop but still move
// the cell's last-seen index forward. The second result is false when no loop closes.
func DetectLoop(path []string, minLoopLength int) (DetectedLoop, bool) {
	lastSeen := make(map[string]int, len(path))
	for j, cell := range path {
		if i, ok := lastSeen[cell]; ok && j-i >= minLoopLength {
			boundary := make([]string, j-i+1)
			copy(boundary, path[i:j+1])
			return DetectedLoop{StartIndex: i, EndIndex: j, Boundary: boundary}, true
		}
		lastSeen[cell] = j
	}
	return DetectedLoop{}, false
}
