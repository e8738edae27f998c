package textrewrite

import (
	"golang.org/x/text/transform"
)

// stage is an incremental rewriter. consume must accept all of src, append what
// can be emitted to out, and keep the rest (a partial token) as internal state.
// With atEOF set it must flush everything it holds.
type stage interface {
	consume(out, src []byte, atEOF bool) []byte
	reset()
}

// stagedTransformer adapts a stage to transform.Transformer, spilling output that
// does not fit dst into a pending buffer.
type stagedTransformer struct {
	stage stage
	out   []byte
	off   int
}

var _ transform.Transformer = (*stagedTransformer)(nil)

func newTransformer(s stage) *stagedTransformer {
	return &stagedTransformer{stage: s}
}

// Transform implements transform.Transformer.
func (t *stagedTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	// Drain what an earlier call could not fit before taking new input.
	if t.off < len(t.out) {
		nDst = copy(dst, t.out[t.off:])
		t.off += nDst
		if t.off < len(t.out) {
			return nDst, 0, transform.ErrShortDst
		}
	}

	t.out = t.stage.consume(t.out[:0], src, atEOF)
	nSrc = len(src)
	t.off = copy(dst[nDst:], t.out)
	nDst += t.off
	if t.off < len(t.out) {
		return nDst, nSrc, transform.ErrShortDst
	}
	return nDst, nSrc, nil
}

// Reset implements transform.Transformer.
func (t *stagedTransformer) Reset() {
	t.out = t.out[:0]
	t.off = 0
	t.stage.reset()
}
