package neuralgpu

// positionMask computes the padding mask and the output
// scales for a padded batch.
//
// The mask has one entry per (batch, position) pair, and
// it is 1 wherever the input or the target is non-zero.
//
// The scales have one entry per (step, batch) pair.
// A scale is 1 at the step equal to the last unmasked
// position of a sequence, so that the output of a
// sequence is read after as many steps as it has
// symbols.
func positionMask(inputs, targets [][]int, length int) (mask, scale []float64) {
	batch := len(inputs)
	mask = make([]float64, batch*length)
	for b := 0; b < batch; b++ {
		for l := 0; l < length; l++ {
			if inputs[b][l] > 0 || targets[b][l] > 0 {
				mask[b*length+l] = 1
			}
		}
	}
	scale = make([]float64, length*batch)
	for step := 0; step < length; step++ {
		for b := 0; b < batch; b++ {
			next := 0.0
			if step+1 < length {
				next = mask[b*length+step+1]
			}
			scale[step*batch+b] = mask[b*length+step] * (1 - next)
		}
	}
	return
}
