package cgru

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Conv is a convolutional linear map over grids of shape
// (batch, length, height, depth).
//
// The convolution uses unit strides and "same" padding,
// so the output has the same spatial size as the input.
type Conv struct {
	// KW is the kernel extent along the length axis, and
	// KH is the extent along the height axis.
	KW int
	KH int

	InDepth  int
	OutDepth int

	// Kernel is laid out as [KW][KH][InDepth][OutDepth].
	Kernel *anydiff.Var

	// Bias may be nil for an unbiased map.
	Bias *anydiff.Var

	// BiasStart is a constant added to the output on top
	// of Bias.
	BiasStart float64
}

// GlorotKernel creates a randomly initialized kernel
// suitable for a Conv with the given dimensions.
func GlorotKernel(c anyvec.Creator, rng *rand.Rand, kw, kh, inDepth, outDepth int) anyvec.Vector {
	fanIn := kw * kh * inDepth
	fanOut := kw * kh * outDepth
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	data := make([]float64, kw*kh*inDepth*outDepth)
	for i := range data {
		data[i] = limit * (rng.Float64()*2 - 1)
	}
	return MakeVector(c, data)
}

// Apply applies the convolution.
//
// Inputs may have any number of leading dimensions as long
// as the last three are (length, height, depth).
func (c *Conv) Apply(in *Tensor) *Tensor {
	return FixBatching(c.apply, 3)(in)
}

func (c *Conv) apply(in *Tensor) *Tensor {
	if len(in.Shape) != 4 || in.Shape[3] != c.InDepth {
		panic(fmt.Sprintf("bad conv input shape %v for depth %d", in.Shape, c.InDepth))
	}
	if c.Kernel.Vector.Len() != c.KW*c.KH*c.InDepth*c.OutDepth {
		panic("kernel size mismatch")
	}
	res := &convRes{
		Conv:   c,
		In:     in.Res,
		Batch:  in.Shape[0],
		Length: in.Shape[1],
		Height: in.Shape[2],
	}
	res.Cols = res.im2col(Float64s(in.Res.Output()))

	rows := res.numRows()
	outData := make([]float64, rows*c.OutDepth)
	out := blas64.General{Rows: rows, Cols: c.OutDepth, Stride: c.OutDepth, Data: outData}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, res.colMatrix(), res.kernelMatrix(), 0, out)

	var bias []float64
	if c.Bias != nil {
		bias = Float64s(c.Bias.Vector)
	}
	for row := 0; row < rows; row++ {
		outRow := outData[row*c.OutDepth : (row+1)*c.OutDepth]
		for i := range outRow {
			outRow[i] += c.BiasStart
			if bias != nil {
				outRow[i] += bias[i]
			}
		}
	}

	res.Out = MakeVector(in.Res.Output().Creator(), outData)
	res.V = anydiff.MergeVarSets(in.Res.Vars(), anydiff.NewVarSet(c.Kernel))
	if c.Bias != nil {
		res.V = anydiff.MergeVarSets(res.V, anydiff.NewVarSet(c.Bias))
	}
	return NewTensor(res, res.Batch, res.Length, res.Height, c.OutDepth)
}

type convRes struct {
	Conv   *Conv
	In     anydiff.Res
	Batch  int
	Length int
	Height int

	// Cols is the im2col matrix with one row per output
	// position and one column per kernel entry.
	Cols []float64

	Out anyvec.Vector
	V   anydiff.VarSet
}

func (c *convRes) Output() anyvec.Vector {
	return c.Out
}

func (c *convRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *convRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	conv := c.Conv
	rows := c.numRows()
	upData := Float64s(u)
	upMat := blas64.General{Rows: rows, Cols: conv.OutDepth, Stride: conv.OutDepth,
		Data: upData}

	if kernelGrad, ok := g[conv.Kernel]; ok {
		cols := c.colMatrix()
		gradData := make([]float64, cols.Cols*conv.OutDepth)
		gradMat := blas64.General{Rows: cols.Cols, Cols: conv.OutDepth,
			Stride: conv.OutDepth, Data: gradData}
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, cols, upMat, 0, gradMat)
		kernelGrad.Add(MakeVector(u.Creator(), gradData))
	}

	if conv.Bias != nil {
		if biasGrad, ok := g[conv.Bias]; ok {
			sums := make([]float64, conv.OutDepth)
			for row := 0; row < rows; row++ {
				for i, x := range upData[row*conv.OutDepth : (row+1)*conv.OutDepth] {
					sums[i] += x
				}
			}
			biasGrad.Add(MakeVector(u.Creator(), sums))
		}
	}

	if g.Intersects(c.In.Vars()) {
		colGrad := make([]float64, len(c.Cols))
		colMat := blas64.General{Rows: rows, Cols: len(c.Cols) / rows,
			Stride: len(c.Cols) / rows, Data: colGrad}
		blas64.Gemm(blas.NoTrans, blas.Trans, 1, upMat, c.kernelMatrix(), 0, colMat)
		c.In.Propagate(MakeVector(u.Creator(), c.col2im(colGrad)), g)
	}
}

func (c *convRes) numRows() int {
	return c.Batch * c.Length * c.Height
}

func (c *convRes) colMatrix() blas64.General {
	rows := c.numRows()
	cols := len(c.Cols) / rows
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: c.Cols}
}

func (c *convRes) kernelMatrix() blas64.General {
	conv := c.Conv
	return blas64.General{
		Rows:   conv.KW * conv.KH * conv.InDepth,
		Cols:   conv.OutDepth,
		Stride: conv.OutDepth,
		Data:   Float64s(conv.Kernel.Vector),
	}
}

// sourceIndex returns the offset of the input entry that
// feeds kernel offset (kx, ky) at output position (b, l,
// h), or -1 if that entry lies in the padding.
func (c *convRes) sourceIndex(b, l, h, kx, ky int) int {
	conv := c.Conv
	srcL := l + kx - (conv.KW-1)/2
	srcH := h + ky - (conv.KH-1)/2
	if srcL < 0 || srcL >= c.Length || srcH < 0 || srcH >= c.Height {
		return -1
	}
	return ((b*c.Length+srcL)*c.Height + srcH) * conv.InDepth
}

func (c *convRes) im2col(in []float64) []float64 {
	conv := c.Conv
	rowSize := conv.KW * conv.KH * conv.InDepth
	cols := make([]float64, c.numRows()*rowSize)
	c.forEachPatch(func(row, col, src int) {
		copy(cols[row*rowSize+col:row*rowSize+col+conv.InDepth],
			in[src:src+conv.InDepth])
	})
	return cols
}

func (c *convRes) col2im(cols []float64) []float64 {
	conv := c.Conv
	rowSize := conv.KW * conv.KH * conv.InDepth
	res := make([]float64, c.Batch*c.Length*c.Height*conv.InDepth)
	c.forEachPatch(func(row, col, src int) {
		patch := cols[row*rowSize+col : row*rowSize+col+conv.InDepth]
		for i, x := range patch {
			res[src+i] += x
		}
	})
	return res
}

// forEachPatch calls f for every non-padding (row, column
// offset, input offset) triple of the im2col matrix.
func (c *convRes) forEachPatch(f func(row, col, src int)) {
	conv := c.Conv
	var row int
	for b := 0; b < c.Batch; b++ {
		for l := 0; l < c.Length; l++ {
			for h := 0; h < c.Height; h++ {
				for kx := 0; kx < conv.KW; kx++ {
					for ky := 0; ky < conv.KH; ky++ {
						src := c.sourceIndex(b, l, h, kx, ky)
						if src >= 0 {
							f(row, (kx*conv.KH+ky)*conv.InDepth, src)
						}
					}
				}
				row++
			}
		}
	}
}
