package governance

const defaultRating = 3.0

// merge combines the previous governance state with a new pass result. The
// rating is the mean of the previous rating (3 when unset) and the new one,
// procedures are shallow-merged, and every other key is last-write-wins.
func merge(prev, next map[string]any) map[string]any {
	merged := make(map[string]any, len(prev)+len(next))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}

	prevRating, hasPrev := number(prev["rating"])
	if newRating, ok := number(next["rating"]); ok {
		if !hasPrev {
			prevRating = defaultRating
		}
		merged["rating"] = (prevRating + newRating) / 2
	} else if hasPrev {
		merged["rating"] = prevRating
	} else {
		delete(merged, "rating")
	}

	procedures := map[string]any{}
	prevProcs, prevOK := prev["procedures"].(map[string]any)
	nextProcs, nextOK := next["procedures"].(map[string]any)
	for k, v := range prevProcs {
		procedures[k] = v
	}
	for k, v := range nextProcs {
		procedures[k] = v
	}
	if prevOK || nextOK {
		merged["procedures"] = procedures
	} else {
		delete(merged, "procedures")
	}

	return merged
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
