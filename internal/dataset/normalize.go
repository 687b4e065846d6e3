package dataset

// NormalizeFeedback maps raw feedback of any supported kind onto a [0, 1]
// score. Returns nil when the feedback cannot be scored: unknown kinds,
// out-of-range ratings, or missing values.
//
//	rating       1..5 star value, mapped linearly to (v-1)/4
//	thumbs_up    always 1.0
//	thumbs_down  always 0.0
//	score        already [0, 1], clamped at the edges
func NormalizeFeedback(kind string, value *float64) *float64 {
	switch kind {
	case "rating":
		if value == nil {
			return nil
		}
		v := *value
		if v < 1 || v > 5 {
			return nil
		}
		s := (v - 1) / 4
		return &s
	case "thumbs_up":
		s := 1.0
		return &s
	case "thumbs_down":
		s := 0.0
		return &s
	case "score":
		if value == nil {
			return nil
		}
		s := *value
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		return &s
	default:
		return nil
	}
}
