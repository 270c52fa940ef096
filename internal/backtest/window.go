package backtest

import "fmt"

// Window is one walk-forward fold. All bounds are half-open bar indices:
// train is [TrainStart, TrainEnd), test is [TestStart, TestEnd), and
// TrainEnd == TestStart.
type Window struct {
	Index      int  `json:"index"`
	TrainStart int  `json:"train_start"`
	TrainEnd   int  `json:"train_end"`
	TestStart  int  `json:"test_start"`
	TestEnd    int  `json:"test_end"`
	Truncated  bool `json:"truncated,omitempty"`
}

// TestLen is the number of bars in the test slice.
func (w Window) TestLen() int { return w.TestEnd - w.TestStart }

// Split partitions n bars into walk-forward windows. The first test slice
// starts at index TrainWindow; each following window starts Step bars later.
// A window is emitted while at least TestWindow bars remain. Under the
// truncate policy a shorter final test slice is also emitted while at least
// Step bars remain, or while the tail of the series is still uncovered.
func Split(n int, cfg Config) ([]Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if n < cfg.TrainWindow+cfg.TestWindow {
		return nil, fmt.Errorf("%w: %d bars, need at least %d (train %d + test %d)",
			ErrInsufficientHistory, n, cfg.TrainWindow+cfg.TestWindow, cfg.TrainWindow, cfg.TestWindow)
	}

	truncate := cfg.policy() == PartialTruncate
	var windows []Window
	covered := 0
	for start := cfg.TrainWindow; start < n; start += cfg.Step {
		remaining := n - start
		w := Window{
			Index:      len(windows),
			TrainStart: start - cfg.TrainWindow,
			TrainEnd:   start,
			TestStart:  start,
			TestEnd:    start + cfg.TestWindow,
		}
		if remaining < cfg.TestWindow {
			if !truncate || (remaining < cfg.Step && covered >= n) {
				break
			}
			w.TestEnd = n
			w.Truncated = true
		}
		windows = append(windows, w)
		covered = w.TestEnd
	}
	return windows, nil
}
