package score

// SplitThreeStep distributes total across three input boxes greedily, each box
// holding at most stepCap. Whatever exceeds three full boxes lands in the last one.
func SplitThreeStep(total, stepCap float64) [3]float64 {
	var parts [3]float64
	if total <= 0 {
		return parts
	}
	if stepCap <= 0 {
		stepCap = 20
	}
	remaining := total
	for i := 0; i < 2; i++ {
		parts[i] = min(remaining, stepCap)
		remaining -= parts[i]
	}
	parts[2] = remaining
	return parts
}
