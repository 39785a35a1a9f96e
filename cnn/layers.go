package cnn

import (
	"math"
	"math/rand/v2"
)

// shape is a channels-last activation shape. Dense activations use h = w = 1.
type shape struct {
	h, w, c int
}

func (s shape) size() int { return s.h * s.w * s.c }

// param is a trainable tensor with its gradient accumulator.
type param struct {
	w []float64
	g []float64
}

func newParam(n int) *param {
	return &param{w: make([]float64, n), g: make([]float64, n)}
}

// layer processes a whole batch so batch normalisation can see batch
// statistics. Forward caches what backward needs.
type layer interface {
	outShape() shape
	forward(batch [][]float64, training bool) [][]float64
	backward(grad [][]float64) [][]float64
	params() []*param
	// state lists every persisted tensor, trainable or not.
	state() [][]float64
}

func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// conv2D is a valid 2D convolution with stride 1 followed by ReLU.
type conv2D struct {
	in, out shape
	k       int
	weight  *param // [out.c][k][k][in.c]
	bias    *param

	inputs [][]float64
	preact [][]float64
}

func newConv2D(in shape, filters, k int, rng *rand.Rand) *conv2D {
	l := &conv2D{
		in:     in,
		out:    shape{h: in.h - k + 1, w: in.w - k + 1, c: filters},
		k:      k,
		weight: newParam(filters * k * k * in.c),
		bias:   newParam(filters),
	}
	glorotUniform(rng, l.weight.w, k*k*in.c, k*k*filters)
	return l
}

func (l *conv2D) outShape() shape      { return l.out }
func (l *conv2D) params() []*param     { return []*param{l.weight, l.bias} }
func (l *conv2D) state() [][]float64   { return [][]float64{l.weight.w, l.bias.w} }
func (l *conv2D) kernelSpan() int      { return l.k * l.k * l.in.c }
func (l *conv2D) inIndex(y, x int) int { return (y*l.in.w + x) * l.in.c }

func (l *conv2D) forward(batch [][]float64, training bool) [][]float64 {
	out := make([][]float64, len(batch))
	pre := make([][]float64, len(batch))
	span := l.kernelSpan()
	rowLen := l.k * l.in.c
	for b, x := range batch {
		z := make([]float64, l.out.size())
		for y := 0; y < l.out.h; y++ {
			for xx := 0; xx < l.out.w; xx++ {
				base := (y*l.out.w + xx) * l.out.c
				for o := 0; o < l.out.c; o++ {
					sum := l.bias.w[o]
					kw := l.weight.w[o*span : (o+1)*span]
					for ky := 0; ky < l.k; ky++ {
						src := x[l.inIndex(y+ky, xx) : l.inIndex(y+ky, xx)+rowLen]
						wr := kw[ky*rowLen : (ky+1)*rowLen]
						for i, v := range src {
							sum += v * wr[i]
						}
					}
					z[base+o] = sum
				}
			}
		}
		a := make([]float64, len(z))
		for i, v := range z {
			if v > 0 {
				a[i] = v
			}
		}
		pre[b] = z
		out[b] = a
	}
	if training {
		l.inputs, l.preact = batch, pre
	}
	return out
}

func (l *conv2D) backward(grad [][]float64) [][]float64 {
	dx := make([][]float64, len(grad))
	span := l.kernelSpan()
	rowLen := l.k * l.in.c
	for b, g := range grad {
		x := l.inputs[b]
		z := l.preact[b]
		d := make([]float64, l.in.size())
		for y := 0; y < l.out.h; y++ {
			for xx := 0; xx < l.out.w; xx++ {
				base := (y*l.out.w + xx) * l.out.c
				for o := 0; o < l.out.c; o++ {
					if z[base+o] <= 0 {
						continue
					}
					dz := g[base+o]
					if dz == 0 {
						continue
					}
					l.bias.g[o] += dz
					kw := l.weight.w[o*span : (o+1)*span]
					kg := l.weight.g[o*span : (o+1)*span]
					for ky := 0; ky < l.k; ky++ {
						start := l.inIndex(y+ky, xx)
						for i := 0; i < rowLen; i++ {
							kg[ky*rowLen+i] += dz * x[start+i]
							d[start+i] += dz * kw[ky*rowLen+i]
						}
					}
				}
			}
		}
		dx[b] = d
	}
	return dx
}

// batchNorm normalises each channel over the batch and all spatial positions.
type batchNorm struct {
	s          shape
	momentum   float64
	eps        float64
	gamma      *param
	beta       *param
	movingMean []float64
	movingVar  []float64

	xhat   [][]float64
	invStd []float64
}

func newBatchNorm(s shape, momentum, eps float64) *batchNorm {
	l := &batchNorm{
		s:          s,
		momentum:   momentum,
		eps:        eps,
		gamma:      newParam(s.c),
		beta:       newParam(s.c),
		movingMean: make([]float64, s.c),
		movingVar:  make([]float64, s.c),
	}
	for i := range l.gamma.w {
		l.gamma.w[i] = 1
		l.movingVar[i] = 1
	}
	return l
}

func (l *batchNorm) outShape() shape  { return l.s }
func (l *batchNorm) params() []*param { return []*param{l.gamma, l.beta} }
func (l *batchNorm) state() [][]float64 {
	return [][]float64{l.gamma.w, l.beta.w, l.movingMean, l.movingVar}
}

func (l *batchNorm) forward(batch [][]float64, training bool) [][]float64 {
	c := l.s.c
	out := make([][]float64, len(batch))
	if !training {
		for b, x := range batch {
			y := make([]float64, len(x))
			for i, v := range x {
				ch := i % c
				y[i] = l.gamma.w[ch]*(v-l.movingMean[ch])/math.Sqrt(l.movingVar[ch]+l.eps) + l.beta.w[ch]
			}
			out[b] = y
		}
		return out
	}

	count := float64(len(batch) * l.s.h * l.s.w)
	mean := make([]float64, c)
	variance := make([]float64, c)
	for _, x := range batch {
		for i, v := range x {
			mean[i%c] += v
		}
	}
	for ch := range mean {
		mean[ch] /= count
	}
	for _, x := range batch {
		for i, v := range x {
			d := v - mean[i%c]
			variance[i%c] += d * d
		}
	}
	invStd := make([]float64, c)
	for ch := range variance {
		variance[ch] /= count
		invStd[ch] = 1 / math.Sqrt(variance[ch]+l.eps)
		l.movingMean[ch] = l.momentum*l.movingMean[ch] + (1-l.momentum)*mean[ch]
		l.movingVar[ch] = l.momentum*l.movingVar[ch] + (1-l.momentum)*variance[ch]
	}

	xhat := make([][]float64, len(batch))
	for b, x := range batch {
		xh := make([]float64, len(x))
		y := make([]float64, len(x))
		for i, v := range x {
			ch := i % c
			xh[i] = (v - mean[ch]) * invStd[ch]
			y[i] = l.gamma.w[ch]*xh[i] + l.beta.w[ch]
		}
		xhat[b] = xh
		out[b] = y
	}
	l.xhat, l.invStd = xhat, invStd
	return out
}

func (l *batchNorm) backward(grad [][]float64) [][]float64 {
	c := l.s.c
	count := float64(len(grad) * l.s.h * l.s.w)
	sumD := make([]float64, c)
	sumDX := make([]float64, c)
	for b, g := range grad {
		xh := l.xhat[b]
		for i, dy := range g {
			ch := i % c
			l.gamma.g[ch] += dy * xh[i]
			l.beta.g[ch] += dy
			dxh := dy * l.gamma.w[ch]
			sumD[ch] += dxh
			sumDX[ch] += dxh * xh[i]
		}
	}
	dx := make([][]float64, len(grad))
	for b, g := range grad {
		xh := l.xhat[b]
		d := make([]float64, len(g))
		for i, dy := range g {
			ch := i % c
			dxh := dy * l.gamma.w[ch]
			d[i] = l.invStd[ch] / count * (count*dxh - sumD[ch] - xh[i]*sumDX[ch])
		}
		dx[b] = d
	}
	return dx
}

// maxPool2D is a 2x2 pool with stride 2; odd trailing rows and columns are dropped.
type maxPool2D struct {
	in, out shape
	argmax  [][]int
}

func newMaxPool2D(in shape) *maxPool2D {
	return &maxPool2D{in: in, out: shape{h: in.h / 2, w: in.w / 2, c: in.c}}
}

func (l *maxPool2D) outShape() shape    { return l.out }
func (l *maxPool2D) params() []*param   { return nil }
func (l *maxPool2D) state() [][]float64 { return nil }

func (l *maxPool2D) forward(batch [][]float64, training bool) [][]float64 {
	out := make([][]float64, len(batch))
	arg := make([][]int, len(batch))
	for b, x := range batch {
		y := make([]float64, l.out.size())
		idx := make([]int, l.out.size())
		for oy := 0; oy < l.out.h; oy++ {
			for ox := 0; ox < l.out.w; ox++ {
				for ch := 0; ch < l.in.c; ch++ {
					best := math.Inf(-1)
					bestIdx := 0
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							i := ((2*oy+dy)*l.in.w+(2*ox+dx))*l.in.c + ch
							if x[i] > best {
								best, bestIdx = x[i], i
							}
						}
					}
					o := (oy*l.out.w+ox)*l.out.c + ch
					y[o], idx[o] = best, bestIdx
				}
			}
		}
		out[b], arg[b] = y, idx
	}
	if training {
		l.argmax = arg
	}
	return out
}

func (l *maxPool2D) backward(grad [][]float64) [][]float64 {
	dx := make([][]float64, len(grad))
	for b, g := range grad {
		d := make([]float64, l.in.size())
		for o, v := range g {
			d[l.argmax[b][o]] += v
		}
		dx[b] = d
	}
	return dx
}

// dropout zeroes activations with probability rate during training and
// rescales the survivors so inference needs no correction.
type dropout struct {
	s    shape
	rate float64
	rng  *rand.Rand
	mask [][]float64
}

func newDropout(s shape, rate float64, rng *rand.Rand) *dropout {
	return &dropout{s: s, rate: rate, rng: rng}
}

func (l *dropout) outShape() shape    { return l.s }
func (l *dropout) params() []*param   { return nil }
func (l *dropout) state() [][]float64 { return nil }

func (l *dropout) forward(batch [][]float64, training bool) [][]float64 {
	if !training || l.rate <= 0 {
		l.mask = nil
		return batch
	}
	keep := 1 - l.rate
	out := make([][]float64, len(batch))
	mask := make([][]float64, len(batch))
	for b, x := range batch {
		m := make([]float64, len(x))
		y := make([]float64, len(x))
		for i, v := range x {
			if l.rng.Float64() < keep {
				m[i] = 1 / keep
				y[i] = v * m[i]
			}
		}
		out[b], mask[b] = y, m
	}
	l.mask = mask
	return out
}

func (l *dropout) backward(grad [][]float64) [][]float64 {
	if l.mask == nil {
		return grad
	}
	dx := make([][]float64, len(grad))
	for b, g := range grad {
		d := make([]float64, len(g))
		for i, v := range g {
			d[i] = v * l.mask[b][i]
		}
		dx[b] = d
	}
	return dx
}

// dense is a fully connected layer over the flattened input, optionally
// followed by ReLU.
type dense struct {
	inSize int
	units  int
	relu   bool
	weight *param // [units][inSize]
	bias   *param

	inputs [][]float64
	preact [][]float64
}

func newDense(inSize, units int, relu bool, rng *rand.Rand) *dense {
	l := &dense{
		inSize: inSize,
		units:  units,
		relu:   relu,
		weight: newParam(units * inSize),
		bias:   newParam(units),
	}
	glorotUniform(rng, l.weight.w, inSize, units)
	return l
}

func (l *dense) outShape() shape    { return shape{h: 1, w: 1, c: l.units} }
func (l *dense) params() []*param   { return []*param{l.weight, l.bias} }
func (l *dense) state() [][]float64 { return [][]float64{l.weight.w, l.bias.w} }

func (l *dense) forward(batch [][]float64, training bool) [][]float64 {
	out := make([][]float64, len(batch))
	pre := make([][]float64, len(batch))
	for b, x := range batch {
		z := make([]float64, l.units)
		for u := 0; u < l.units; u++ {
			sum := l.bias.w[u]
			row := l.weight.w[u*l.inSize : (u+1)*l.inSize]
			for i, v := range x {
				sum += v * row[i]
			}
			z[u] = sum
		}
		a := z
		if l.relu {
			a = make([]float64, l.units)
			for i, v := range z {
				if v > 0 {
					a[i] = v
				}
			}
		}
		pre[b], out[b] = z, a
	}
	if training {
		l.inputs, l.preact = batch, pre
	}
	return out
}

func (l *dense) backward(grad [][]float64) [][]float64 {
	dx := make([][]float64, len(grad))
	for b, g := range grad {
		x := l.inputs[b]
		d := make([]float64, l.inSize)
		for u, dy := range g {
			if l.relu && l.preact[b][u] <= 0 {
				continue
			}
			if dy == 0 {
				continue
			}
			l.bias.g[u] += dy
			row := l.weight.w[u*l.inSize : (u+1)*l.inSize]
			rowG := l.weight.g[u*l.inSize : (u+1)*l.inSize]
			for i, v := range x {
				rowG[i] += dy * v
				d[i] += dy * row[i]
			}
		}
		dx[b] = d
	}
	return dx
}
