package neuralgpu

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/neuralgpu/cgru"
)

// gather creates a vector whose i-th component is the
// component table[i] of the input.
func gather(in anydiff.Res, table []int) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Map(c.MakeMapper(in.Output().Len(), table), in)
}

// embed looks up one row of the embedding matrix for each
// token.
func embed(embedding anydiff.Res, tokens []int, vecSize int) anydiff.Res {
	table := make([]int, len(tokens)*vecSize)
	for i, tok := range tokens {
		for j := 0; j < vecSize; j++ {
			table[i*vecSize+j] = tok*vecSize + j
		}
	}
	return gather(embedding, table)
}

// padHeight turns a (positions, 1, depth) grid into a
// (positions, height, depth) grid with zeros below the
// first row.
func padHeight(in anydiff.Res, positions, height, depth int) anydiff.Res {
	c := in.Output().Creator()
	zeroIdx := in.Output().Len()
	withZero := anydiff.Concat(in, anydiff.NewConst(cgru.MakeVector(c, []float64{0})))
	table := make([]int, positions*height*depth)
	for i := range table {
		pos := i / (height * depth)
		row := (i / depth) % height
		if row == 0 {
			table[i] = pos*depth + i%depth
		} else {
			table[i] = zeroIdx
		}
	}
	return gather(withZero, table)
}

// topRow extracts the first row of a (positions, height,
// depth) grid.
func topRow(in anydiff.Res, positions, height, depth int) anydiff.Res {
	table := make([]int, positions*depth)
	for i := range table {
		pos := i / depth
		table[i] = pos*height*depth + i%depth
	}
	return gather(in, table)
}
