package codec

import (
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wgslFunc is a single-parameter u32/f32 helper from a codec prelude.
type wgslFunc struct {
	param string
	lets  [][2]string
	ret   string
}

var (
	wgslFuncRe  = regexp.MustCompile(`(?s)fn (\w+)\((\w+): \w+\) -> \w+ \{(.*?)\n\}`)
	wgslTokenRe = regexp.MustCompile(`0x[0-9a-fA-F]+u?|\d+u?|bitcast<\w+>|\w+|<<|>>|[()|&]`)
)

func parsePrelude(t *testing.T, src string) map[string]wgslFunc {
	t.Helper()
	funcs := make(map[string]wgslFunc)
	for _, m := range wgslFuncRe.FindAllStringSubmatch(src, -1) {
		f := wgslFunc{param: m[2]}
		for _, stmt := range strings.Split(m[3], ";") {
			stmt = strings.TrimSpace(stmt)
			switch {
			case stmt == "":
			case strings.HasPrefix(stmt, "let "):
				name, expr, ok := strings.Cut(strings.TrimPrefix(stmt, "let "), "=")
				require.True(t, ok, "let without value: %q", stmt)
				f.lets = append(f.lets, [2]string{strings.TrimSpace(name), expr})
			case strings.HasPrefix(stmt, "return "):
				f.ret = strings.TrimPrefix(stmt, "return ")
			default:
				t.Fatalf("unsupported statement %q", stmt)
			}
		}
		funcs[m[1]] = f
	}
	return funcs
}

// wgslEval evaluates the integer expressions of a prelude. Floats are
// carried as their bit patterns, so bitcast is the identity.
type wgslEval struct {
	t     *testing.T
	funcs map[string]wgslFunc
	vars  map[string]uint32
	toks  []string
	pos   int
}

func callWGSL(t *testing.T, funcs map[string]wgslFunc, name string, arg uint32) uint32 {
	t.Helper()
	f, ok := funcs[name]
	require.True(t, ok, "prelude has no fn %s", name)
	vars := map[string]uint32{f.param: arg}
	for _, l := range f.lets {
		vars[l[0]] = evalWGSL(t, funcs, vars, l[1])
	}
	return evalWGSL(t, funcs, vars, f.ret)
}

func evalWGSL(t *testing.T, funcs map[string]wgslFunc, vars map[string]uint32, expr string) uint32 {
	t.Helper()
	e := &wgslEval{t: t, funcs: funcs, vars: vars, toks: wgslTokenRe.FindAllString(expr, -1)}
	v := e.or()
	require.Equal(t, len(e.toks), e.pos, "trailing tokens in %q", expr)
	return v
}

func (e *wgslEval) peek() string {
	if e.pos < len(e.toks) {
		return e.toks[e.pos]
	}
	return ""
}

func (e *wgslEval) next() string {
	tok := e.peek()
	e.pos++
	return tok
}

func (e *wgslEval) expect(tok string) {
	if got := e.next(); got != tok {
		e.t.Fatalf("expected %q, got %q", tok, got)
	}
}

func (e *wgslEval) or() uint32 {
	v := e.and()
	for e.peek() == "|" {
		e.next()
		v |= e.and()
	}
	return v
}

func (e *wgslEval) and() uint32 {
	v := e.shift()
	for e.peek() == "&" {
		e.next()
		v &= e.shift()
	}
	return v
}

func (e *wgslEval) shift() uint32 {
	v := e.operand()
	for e.peek() == "<<" || e.peek() == ">>" {
		op := e.next()
		n := e.operand() % 32
		if op == "<<" {
			v <<= n
		} else {
			v >>= n
		}
	}
	return v
}

func (e *wgslEval) operand() uint32 {
	tok := e.next()
	switch {
	case tok == "":
		e.t.Fatal("unexpected end of expression")
		return 0
	case tok == "(":
		v := e.or()
		e.expect(")")
		return v
	case strings.HasPrefix(tok, "bitcast<"):
		e.expect("(")
		v := e.or()
		e.expect(")")
		return v
	case tok[0] >= '0' && tok[0] <= '9':
		n, err := strconv.ParseUint(strings.TrimSuffix(tok, "u"), 0, 32)
		require.NoError(e.t, err)
		return uint32(n)
	case e.peek() == "(":
		e.next()
		arg := e.or()
		e.expect(")")
		return callWGSL(e.t, e.funcs, tok, arg)
	default:
		v, ok := e.vars[tok]
		require.True(e.t, ok, "unknown identifier %q", tok)
		return v
	}
}

func TestBytePreludeMatchesEncodeFloat(t *testing.T) {
	funcs := parsePrelude(t, ByteCodec{}.Prelude())
	require.Contains(t, funcs, "pack_float")
	require.Contains(t, funcs, "unpack_float")

	values := []float32{
		1,
		math32.Copysign(0, -1),
		-2,
		1.5,
		math32.Inf(-1),
		math32.Pi,
		math32.Float32frombits(1), // smallest subnormal
		-123456.78,
	}
	for _, f := range values {
		px := EncodeFloat(f)
		// Storage buffers load a pixel with R in the low byte.
		word := binary.LittleEndian.Uint32(px[:])
		bits := math32.Float32bits(f)

		assert.Equal(t, word, callWGSL(t, funcs, "pack_float", bits), "pack_float(%v) against pixel %x", f, px)
		assert.Equal(t, bits, callWGSL(t, funcs, "unpack_float", word), "unpack_float(%#08x)", word)
	}
}

func TestBytePreludeKnownWords(t *testing.T) {
	funcs := parsePrelude(t, ByteCodec{}.Prelude())
	assert.Equal(t, uint32(0x0000007F), callWGSL(t, funcs, "pack_float", math32.Float32bits(1)))
	assert.Equal(t, uint32(0x01000000), callWGSL(t, funcs, "pack_float", math32.Float32bits(math32.Copysign(0, -1))))
}
