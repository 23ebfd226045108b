package Gorast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ExpressionEvaluator 表达式求值器，inputs 中不含NoData或缺失的输入。
// 键：rastN、rastN.val、rastN.x、rastN.y（从1开始的源像素坐标）以及 rast.x、rast.y（输出像素坐标）。
// ok 为 false 表示输出NoData。
type ExpressionEvaluator func(inputs map[string]float64) (value float64, ok bool, err error)

// UserFunc 用户回调，values/valid 按输入顺序排列，positions 依次为输出 x、y 及各输入的 x、y
type UserFunc func(values []float64, valid []bool, positions []int) (value float64, ok bool, err error)

// TwoRasterExpr 双栅格表达式。NoData1Expr 在第一个输入为NoData时使用，NoData2Expr 在第二个输入为NoData时使用；
// 两者都为NoData时输出 NoDataNoDataValue（为 nil 则输出NoData）
type TwoRasterExpr struct {
	Expr              ExpressionEvaluator
	NoData1Expr       ExpressionEvaluator
	NoData2Expr       ExpressionEvaluator
	NoDataNoDataValue *float64
}

var (
	rastValKeys []string
	rastXKeys   []string
	rastYKeys   []string
	rastKeys    []string
)

func init() {
	for i := 1; i <= 16; i++ {
		n := strconv.Itoa(i)
		rastKeys = append(rastKeys, "rast"+n)
		rastValKeys = append(rastValKeys, "rast"+n+".val")
		rastXKeys = append(rastXKeys, "rast"+n+".x")
		rastYKeys = append(rastYKeys, "rast"+n+".y")
	}
}

func inputKeys(i int) (base, val, x, y string) {
	if i < len(rastKeys) {
		return rastKeys[i], rastValKeys[i], rastXKeys[i], rastYKeys[i]
	}
	n := strconv.Itoa(i + 1)
	return "rast" + n, "rast" + n + ".val", "rast" + n + ".x", "rast" + n + ".y"
}

// fillExprInputs 复用同一个 map 填充当前像素的表达式变量
func fillExprInputs(m map[string]float64, w *PixelWindow) {
	clear(m)
	m["rast.x"] = float64(w.X)
	m["rast.y"] = float64(w.Y)
	for i, in := range w.Inputs {
		base, val, x, y := inputKeys(i)
		m[x] = float64(in.X)
		m[y] = float64(in.Y)
		if in.Valid() {
			m[base] = in.Value
			m[val] = in.Value
		}
	}
}

// MapAlgebraExpr 使用表达式对多个栅格逐像素计算
func (e *Engine) MapAlgebraExpr(inputs []IteratorInput, opts IterateOptions, eval ExpressionEvaluator) (*Raster, error) {
	if eval == nil {
		return nil, fmt.Errorf("%w: nil expression", ErrCallbackFailure)
	}
	vars := make(map[string]float64, 2+4*len(inputs))
	return e.Iterate(inputs, opts, func(w *PixelWindow) (float64, bool, error) {
		fillExprInputs(vars, w)
		v, ok, err := eval(vars)
		if err != nil {
			return 0, true, err
		}
		return v, !ok, nil
	})
}

// MapAlgebraExpr2 双栅格表达式计算，按两侧NoData状态选择不同表达式
func (e *Engine) MapAlgebraExpr2(a, b IteratorInput, opts IterateOptions, expr TwoRasterExpr) (*Raster, error) {
	vars := make(map[string]float64, 10)
	return e.Iterate([]IteratorInput{a, b}, opts, func(w *PixelWindow) (float64, bool, error) {
		v1, v2 := w.Inputs[0].Valid(), w.Inputs[1].Valid()
		var eval ExpressionEvaluator
		switch {
		case v1 && v2:
			eval = expr.Expr
		case !v1 && v2:
			eval = expr.NoData1Expr
		case v1 && !v2:
			eval = expr.NoData2Expr
		default:
			if expr.NoDataNoDataValue == nil {
				return 0, true, nil
			}
			return *expr.NoDataNoDataValue, false, nil
		}
		if eval == nil {
			return 0, true, nil
		}
		fillExprInputs(vars, w)
		v, ok, err := eval(vars)
		if err != nil {
			return 0, true, err
		}
		return v, !ok, nil
	})
}

// MapAlgebraFunc 使用用户回调对多个栅格逐像素计算
func (e *Engine) MapAlgebraFunc(inputs []IteratorInput, opts IterateOptions, fn UserFunc) (*Raster, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil user function", ErrCallbackFailure)
	}
	values := make([]float64, len(inputs))
	valid := make([]bool, len(inputs))
	positions := make([]int, 2+2*len(inputs))
	return e.Iterate(inputs, opts, func(w *PixelWindow) (float64, bool, error) {
		positions[0], positions[1] = w.X, w.Y
		for i, in := range w.Inputs {
			values[i] = in.Value
			valid[i] = in.Valid()
			positions[2+2*i], positions[3+2*i] = in.X, in.Y
		}
		v, ok, err := fn(values, valid, positions)
		if err != nil {
			return 0, true, err
		}
		return v, !ok, nil
	})
}

// ==================== 常用指数 ====================

// normalizedDifference (a-b)/(a+b)，分母为0时输出NoData
func normalizedDifference(in map[string]float64) (float64, bool, error) {
	a, ok1 := in["rast1"]
	b, ok2 := in["rast2"]
	if !ok1 || !ok2 || a+b == 0 {
		return 0, false, nil
	}
	return (a - b) / (a + b), true, nil
}

func (e *Engine) bandIndex(r *Raster, bandA, bandB int) (*Raster, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil raster", ErrInvalidBand)
	}
	for _, n := range []int{bandA, bandB} {
		if _, err := r.GetBand(n); err != nil {
			return nil, err
		}
	}
	return e.MapAlgebraExpr(
		[]IteratorInput{{Raster: r, BandNum: bandA}, {Raster: r, BandNum: bandB}},
		IterateOptions{Extent: ExtentFirst, PixelType: PT32BF, HasNoData: true, NoData: -9999},
		normalizedDifference,
	)
}

// CalculateNDVI 计算NDVI (NIR-Red)/(NIR+Red)，输出32BF，NoData为-9999
func (e *Engine) CalculateNDVI(r *Raster, nirBand, redBand int) (*Raster, error) {
	return e.bandIndex(r, nirBand, redBand)
}

// CalculateNDWI 计算NDWI (Green-NIR)/(Green+NIR)
func (e *Engine) CalculateNDWI(r *Raster, greenBand, nirBand int) (*Raster, error) {
	return e.bandIndex(r, greenBand, nirBand)
}

// CalculateNDBI 计算NDBI (SWIR-NIR)/(SWIR+NIR)
func (e *Engine) CalculateNDBI(r *Raster, swirBand, nirBand int) (*Raster, error) {
	return e.bandIndex(r, swirBand, nirBand)
}

// ==================== 表达式解析 ====================

// CompileExpression 将文本表达式编译为求值器。
//
// 支持数字、变量（[rast1]、[rast1.val]、[rast2.x]、[rast.y]，方括号可省略）、
// + - * / % ^、比较运算 < <= > >= == !=（结果为1或0）、&& ||、! 、括号，
// 以及函数 abs sqrt exp ln log10 floor ceil round min max pow if(cond,a,b) isnodata(var)。
// 引用了NoData输入的表达式结果为NoData，isnodata 除外。
func CompileExpression(expr string) (ExpressionEvaluator, error) {
	p := &exprParser{src: expr}
	p.next()
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d in expression", p.tok.text, p.tok.pos)
	}
	return func(in map[string]float64) (float64, bool, error) {
		v, ok, err := node.eval(in)
		if err != nil || !ok {
			return 0, false, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false, nil
		}
		return v, true, nil
	}, nil
}

// MustCompileExpression 编译失败时 panic，用于常量表达式
func MustCompileExpression(expr string) ExpressionEvaluator {
	ev, err := CompileExpression(expr)
	if err != nil {
		panic(err)
	}
	return ev
}

type exprNode interface {
	eval(in map[string]float64) (float64, bool, error)
}

type numNode float64

func (n numNode) eval(map[string]float64) (float64, bool, error) { return float64(n), true, nil }

type varNode string

func (n varNode) eval(in map[string]float64) (float64, bool, error) {
	v, ok := in[string(n)]
	return v, ok, nil
}

type unaryNode struct {
	op  byte
	arg exprNode
}

func (n *unaryNode) eval(in map[string]float64) (float64, bool, error) {
	v, ok, err := n.arg.eval(in)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n.op == '!' {
		return boolFloat(v == 0), true, nil
	}
	return -v, true, nil
}

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n *binaryNode) eval(in map[string]float64) (float64, bool, error) {
	a, ok, err := n.left.eval(in)
	if err != nil || !ok {
		return 0, ok, err
	}
	// 短路
	switch n.op {
	case "&&":
		if a == 0 {
			return 0, true, nil
		}
	case "||":
		if a != 0 {
			return 1, true, nil
		}
	}
	b, ok, err := n.right.eval(in)
	if err != nil || !ok {
		return 0, ok, err
	}
	switch n.op {
	case "+":
		return a + b, true, nil
	case "-":
		return a - b, true, nil
	case "*":
		return a * b, true, nil
	case "/":
		if b == 0 {
			return 0, false, nil
		}
		return a / b, true, nil
	case "%":
		if b == 0 {
			return 0, false, nil
		}
		return math.Mod(a, b), true, nil
	case "^":
		return math.Pow(a, b), true, nil
	case "<":
		return boolFloat(a < b), true, nil
	case "<=":
		return boolFloat(a <= b), true, nil
	case ">":
		return boolFloat(a > b), true, nil
	case ">=":
		return boolFloat(a >= b), true, nil
	case "==":
		return boolFloat(a == b), true, nil
	case "!=":
		return boolFloat(a != b), true, nil
	case "&&", "||":
		return boolFloat(b != 0), true, nil
	}
	return 0, false, fmt.Errorf("unknown operator %q", n.op)
}

type callNode struct {
	name string
	args []exprNode
}

var exprFuncs1 = map[string]func(float64) float64{
	"abs":   math.Abs,
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"ln":    math.Log,
	"log10": math.Log10,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
}

func (n *callNode) eval(in map[string]float64) (float64, bool, error) {
	switch n.name {
	case "isnodata":
		_, present := in[string(n.args[0].(varNode))]
		return boolFloat(!present), true, nil
	case "if":
		c, ok, err := n.args[0].eval(in)
		if err != nil || !ok {
			return 0, ok, err
		}
		if c != 0 {
			return n.args[1].eval(in)
		}
		return n.args[2].eval(in)
	}

	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, ok, err := a.eval(in)
		if err != nil || !ok {
			return 0, ok, err
		}
		vals[i] = v
	}
	if f, ok := exprFuncs1[n.name]; ok {
		return f(vals[0]), true, nil
	}
	switch n.name {
	case "min":
		return math.Min(vals[0], vals[1]), true, nil
	case "max":
		return math.Max(vals[0], vals[1]), true, nil
	case "pow":
		return math.Pow(vals[0], vals[1]), true, nil
	}
	return 0, false, fmt.Errorf("unknown function %q", n.name)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ---- 词法 ----

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

type exprParser struct {
	src string
	pos int
	tok token
	err error
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.' ||
			p.src[p.pos] == 'e' || p.src[p.pos] == 'E' ||
			((p.src[p.pos] == '+' || p.src[p.pos] == '-') && p.pos > start &&
				(p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E'))) {
			p.pos++
		}
		text := p.src[start:p.pos]
		v, err := strconv.ParseFloat(text, 64)
		if err != nil && p.err == nil {
			p.err = fmt.Errorf("invalid number %q at offset %d", text, start)
		}
		p.tok = token{kind: tokNum, text: text, num: v, pos: start}
	case c == '[':
		end := strings.IndexByte(p.src[p.pos:], ']')
		if end < 0 {
			if p.err == nil {
				p.err = fmt.Errorf("unterminated variable at offset %d", start)
			}
			p.pos = len(p.src)
			p.tok = token{kind: tokEOF, pos: start}
			return
		}
		name := strings.ToLower(strings.TrimSpace(p.src[p.pos+1 : p.pos+end]))
		p.pos += end + 1
		p.tok = token{kind: tokIdent, text: name, pos: start}
	case unicode.IsLetter(rune(c)) || c == '_':
		for p.pos < len(p.src) && (isIdentChar(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: strings.ToLower(p.src[start:p.pos]), pos: start}
	default:
		if p.pos+1 < len(p.src) {
			two := p.src[p.pos : p.pos+2]
			switch two {
			case "<=", ">=", "==", "!=", "&&", "||":
				p.pos += 2
				p.tok = token{kind: tokOp, text: two, pos: start}
				return
			}
		}
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool {
	return c == '_' || c == '.' || isDigit(c) || unicode.IsLetter(rune(c))
}

// ---- 语法：|| < && < 比较 < + - < * / % < ^ < 一元 ----

func (p *exprParser) fail(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return fmt.Errorf(format, args...)
}

func (p *exprParser) isOp(ops ...string) bool {
	if p.tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return true
		}
	}
	return false
}

func (p *exprParser) parseBinary(sub func() (exprNode, error), ops ...string) (exprNode, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for p.isOp(ops...) {
		op := p.tok.text
		p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseOr() (exprNode, error) { return p.parseBinary(p.parseAnd, "||") }

func (p *exprParser) parseAnd() (exprNode, error) { return p.parseBinary(p.parseCmp, "&&") }

func (p *exprParser) parseCmp() (exprNode, error) {
	return p.parseBinary(p.parseAdd, "<", "<=", ">", ">=", "==", "!=")
}

func (p *exprParser) parseAdd() (exprNode, error) { return p.parseBinary(p.parseMul, "+", "-") }

func (p *exprParser) parseMul() (exprNode, error) { return p.parseBinary(p.parseUnary, "*", "/", "%") }

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.isOp("-", "!") {
		op := p.tok.text[0]
		p.next()
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, arg: arg}, nil
	}
	if p.isOp("+") {
		p.next()
		return p.parseUnary()
	}
	return p.parsePow()
}

// parsePow 右结合
func (p *exprParser) parsePow() (exprNode, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "^", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.err != nil {
		return nil, p.err
	}
	tok := p.tok
	switch tok.kind {
	case tokNum:
		p.next()
		return numNode(tok.num), nil
	case tokIdent:
		p.next()
		if p.isOp("(") {
			return p.parseCall(tok)
		}
		if !validVarName(tok.text) {
			return nil, p.fail("unknown variable %q at offset %d", tok.text, tok.pos)
		}
		return varNode(tok.text), nil
	case tokOp:
		if tok.text == "(" {
			p.next()
			node, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.isOp(")") {
				return nil, p.fail("missing ')' at offset %d", p.tok.pos)
			}
			p.next()
			return node, nil
		}
	}
	if tok.kind == tokEOF {
		return nil, p.fail("unexpected end of expression")
	}
	return nil, p.fail("unexpected %q at offset %d", tok.text, tok.pos)
}

func (p *exprParser) parseCall(name token) (exprNode, error) {
	p.next() // (
	var args []exprNode
	if !p.isOp(")") {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.isOp(",") {
				break
			}
			p.next()
		}
	}
	if !p.isOp(")") {
		return nil, p.fail("missing ')' after arguments of %s", name.text)
	}
	p.next()

	want := -1
	switch name.text {
	case "min", "max", "pow":
		want = 2
	case "if":
		want = 3
	case "isnodata":
		want = 1
		if len(args) == 1 {
			if _, ok := args[0].(varNode); !ok {
				return nil, p.fail("isnodata expects a variable")
			}
		}
	default:
		if _, ok := exprFuncs1[name.text]; !ok {
			return nil, p.fail("unknown function %q at offset %d", name.text, name.pos)
		}
		want = 1
	}
	if len(args) != want {
		return nil, p.fail("%s expects %d arguments, got %d", name.text, want, len(args))
	}
	return &callNode{name: name.text, args: args}, nil
}

func validVarName(name string) bool {
	if name == "rast.x" || name == "rast.y" {
		return true
	}
	rest, ok := strings.CutPrefix(name, "rast")
	if !ok {
		return false
	}
	num, field, dotted := strings.Cut(rest, ".")
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return false
	}
	if !dotted {
		return true
	}
	switch field {
	case "val", "x", "y":
		return true
	}
	return false
}
