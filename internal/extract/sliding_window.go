package extract

import "github.com/promptcanary/promptcanary/internal/store"

// SlidingWindow slides a fixed-size window over the turns, producing one
// interaction per window position. Extract returns the final window only;
// ExtractAll yields every position from the start offset.
type SlidingWindow struct {
	window int
	stride int
	offset int
}

func NewSlidingWindow(window, stride, offset int) *SlidingWindow {
	if window < 1 {
		window = 1
	}
	if stride < 1 {
		stride = 1
	}
	if offset < 0 {
		offset = 0
	}
	return &SlidingWindow{window: window, stride: stride, offset: offset}
}

func (s *SlidingWindow) Name() string { return "sliding_window" }

func (s *SlidingWindow) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}
	start := len(turns) - s.window
	if start < 0 {
		start = 0
	}
	input, output := windowToPair(turns[start:])
	return newInteraction(taskID, input, output, score, kind)
}

func (s *SlidingWindow) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}

	start := s.offset
	if start > len(turns) {
		start = len(turns)
	}

	if len(turns)-start < s.window {
		return nil
	}

	var out []*Interaction
	for ; start+s.window <= len(turns); start += s.stride {
		input, output := windowToPair(turns[start : start+s.window])
		out = append(out, newInteraction(taskID, input, output, score, kind))
	}
	return out
}
