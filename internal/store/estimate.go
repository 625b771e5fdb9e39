package store

// EstimateWait is the snapshot wait stored on an entry at join time. It counts
// the positions strictly between the serving cursor and position, so the
// first person past the cursor is quoted zero minutes.
func EstimateWait(position, currentServingPosition, perPersonMinutes int) int {
	ahead := position - currentServingPosition - 1
	if ahead < 0 || perPersonMinutes < 0 {
		return 0
	}
	return ahead * perPersonMinutes
}

// DisplayWait is the live figure shown on a position lookup.
func DisplayWait(peopleAhead, perPersonMinutes int) int {
	if peopleAhead < 0 || perPersonMinutes < 0 {
		return 0
	}
	return peopleAhead * perPersonMinutes
}
