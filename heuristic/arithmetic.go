package heuristic

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ErrDivisionByZero is returned by Expression.Evaluate for a zero divisor.
var ErrDivisionByZero = errors.New("division by zero")

// DivisionByZeroMessage is the result text recorded for a zero divisor.
const DivisionByZeroMessage = "나눗셈 오류: 0으로 나눌 수 없습니다."

// quotientDigits bounds the fractional digits of a non-terminating quotient.
const quotientDigits = 16

var (
	expressionPattern = regexp.MustCompile(`(\d+)\s*([\+\-\*\/])\s*(\d+)`)
	resultPattern     = regexp.MustCompile(`=\s*(\d+\.?\d*|[^=]+)`)
)

// DefaultWordOperators maps spelled-out operators to their symbols.
func DefaultWordOperators() map[string]string {
	return map[string]string{
		"더하기": "+",
		"빼기":  "-",
		"곱하기": "*",
		"나누기": "/",
	}
}

var operatorNames = map[string]string{
	"+": "더하기",
	"-": "빼기",
	"*": "곱하기",
	"/": "나누기",
}

// Expression is a parsed "<int> <op> <int>" query. Operands are arbitrary
// precision.
type Expression struct {
	Left     *big.Int
	Operator string
	Right    *big.Int
}

// OperationName returns the spelled-out operator.
func (e Expression) OperationName() string {
	if name, ok := operatorNames[e.Operator]; ok {
		return name
	}
	return e.Operator
}

// Evaluate computes the expression exactly. Quotients that divide evenly
// render as integers, terminating ones in full, others rounded to 16
// fractional digits.
func (e Expression) Evaluate() (string, error) {
	l, r := operand(e.Left), operand(e.Right)
	switch e.Operator {
	case "+":
		return new(big.Int).Add(l, r).String(), nil
	case "-":
		return new(big.Int).Sub(l, r).String(), nil
	case "*":
		return new(big.Int).Mul(l, r).String(), nil
	case "/":
		if r.Sign() == 0 {
			return "", ErrDivisionByZero
		}
		return formatQuotient(new(big.Rat).SetFrac(l, r)), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", e.Operator)
	}
}

// Result renders "a op b = r". A zero divisor renders the division error text
// in place of r instead of failing.
func (e Expression) Result() string {
	value, err := e.Evaluate()
	if err != nil {
		value = DivisionByZeroMessage
	}
	return fmt.Sprintf("%s %s %s = %s", operand(e.Left), e.Operator, operand(e.Right), value)
}

func operand(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

func formatQuotient(q *big.Rat) string {
	if q.IsInt() {
		return q.Num().String()
	}
	prec := quotientDigits
	if n, ok := terminatingDigits(q.Denom()); ok {
		prec = n
	}
	s := strings.TrimRight(q.FloatString(prec), "0")
	return strings.TrimSuffix(s, ".")
}

// terminatingDigits reports how many fractional digits 1/d needs when d has
// no prime factors other than 2 and 5.
func terminatingDigits(d *big.Int) (int, bool) {
	d = new(big.Int).Set(d)
	twos := int(d.TrailingZeroBits())
	d.Rsh(d, uint(twos))

	five, rem := big.NewInt(5), new(big.Int)
	fives := 0
	for {
		q, m := new(big.Int).QuoRem(d, five, rem)
		if m.Sign() != 0 {
			break
		}
		d = q
		fives++
	}
	if d.Cmp(big.NewInt(1)) != 0 {
		return 0, false
	}
	return max(twos, fives), true
}

// Plan is the two-step plan emitted for an arithmetic query.
func (e Expression) Plan() []string {
	return []string{
		fmt.Sprintf("사용자의 %s와 %s의 %s 계산 수행", operand(e.Left), operand(e.Right), e.OperationName()),
		"계산 결과 제공",
	}
}

type wordOperator struct {
	word   string
	symbol string
}

// Arithmetic detects bare arithmetic expressions in user queries.
type Arithmetic struct {
	words []wordOperator
}

// NewArithmetic creates a detector. A nil map uses DefaultWordOperators.
func NewArithmetic(words map[string]string) *Arithmetic {
	if words == nil {
		words = DefaultWordOperators()
	}
	ops := make([]wordOperator, 0, len(words))
	for w, s := range words {
		if w == "" {
			continue
		}
		ops = append(ops, wordOperator{word: w, symbol: s})
	}
	// Longer words first so that overlapping spellings resolve deterministically.
	sort.Slice(ops, func(i, j int) bool {
		if len(ops[i].word) != len(ops[j].word) {
			return len(ops[i].word) > len(ops[j].word)
		}
		return ops[i].word < ops[j].word
	})
	return &Arithmetic{words: ops}
}

// Normalize replaces spelled-out operators with their symbols and decimal
// digits of any script with ASCII digits.
func (a *Arithmetic) Normalize(query string) string {
	query = NormalizeDigits(query)
	for _, op := range a.words {
		query = strings.ReplaceAll(query, op.word, " "+op.symbol+" ")
	}
	return query
}

// Parse finds the first "<int> <op> <int>" expression in query.
func (a *Arithmetic) Parse(query string) (Expression, bool) {
	m := expressionPattern.FindStringSubmatch(a.Normalize(query))
	if m == nil {
		return Expression{}, false
	}
	left, ok := new(big.Int).SetString(m[1], 10)
	if !ok {
		return Expression{}, false
	}
	right, ok := new(big.Int).SetString(m[3], 10)
	if !ok {
		return Expression{}, false
	}
	return Expression{Left: left, Operator: m[2], Right: right}, true
}

// NormalizeDigits maps decimal digits (Unicode Nd, e.g. full-width ２) to
// ASCII.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= unicode.MaxASCII {
			return r
		}
		if v, ok := digitValue(r); ok {
			return '0' + v
		}
		return r
	}, s)
}

// digitValue relies on every Nd range starting at a zero digit.
func digitValue(r rune) (rune, bool) {
	for _, rg := range unicode.Nd.R16 {
		if lo, hi := rune(rg.Lo), rune(rg.Hi); r >= lo && r <= hi {
			return (r - lo) % 10, true
		}
	}
	for _, rg := range unicode.Nd.R32 {
		if lo, hi := rune(rg.Lo), rune(rg.Hi); r >= lo && r <= hi {
			return (r - lo) % 10, true
		}
	}
	return 0, false
}

// IsCalculationTask reports whether a plan step asks for a calculation.
func IsCalculationTask(task string) bool {
	return strings.Contains(strings.ToLower(task), "계산")
}

// FinalAnswer renders the terse final response for a recorded calculation:
// "결과: X" when a value follows "=", the recorded text itself otherwise.
func FinalAnswer(result string) (string, bool) {
	if !strings.Contains(result, "계산 결과") && !strings.Contains(result, "=") {
		return "", false
	}
	if m := resultPattern.FindStringSubmatch(result); m != nil {
		return "결과: " + strings.TrimSpace(m[1]), true
	}
	return result, true
}
