// Package fixed 提供定点数运算，所有价格与数量均使用该类型，
// 避免浮点误差引起的报价抖动。内部为 int64，放大 1e9 倍。
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Scale 定点放大倍数（1e9）。
const Scale int64 = 1_000_000_000

// ErrOverflow 表示运算结果超出 int64 可表示范围。
var ErrOverflow = errors.New("fixed: overflow")

// Num 是放大 1e9 倍的定点数；零值即 0。
type Num int64

// Zero 常量零值，便于比较。
const Zero Num = 0

// FromInt 将整数转换为定点数。
func FromInt(v int64) (Num, error) {
	if v > math.MaxInt64/Scale || v < math.MinInt64/Scale {
		return 0, ErrOverflow
	}
	return Num(v * Scale), nil
}

// MustFromInt 同 FromInt，溢出时 panic；仅用于常量与测试。
func MustFromInt(v int64) Num {
	n, err := FromInt(v)
	if err != nil {
		panic(err)
	}
	return n
}

// FromFloat 将浮点数转换为定点数，仅用于配置解析边界。
func FromFloat(f float64) (Num, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("fixed: invalid float %v", f)
	}
	scaled := f * float64(Scale)
	if scaled >= float64(math.MaxInt64) || scaled <= float64(math.MinInt64) {
		return 0, ErrOverflow
	}
	return Num(math.Round(scaled)), nil
}

// FromString 解析十进制字符串（最多 9 位小数）。
func FromString(s string) (Num, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("fixed: empty string")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("fixed: invalid number %q", s)
	}
	// ParseInt 接受符号，整数/小数部分必须是纯数字
	if !isDigits(intPart) || !isDigits(fracPart) {
		return 0, fmt.Errorf("fixed: invalid number %q", s)
	}
	if len(fracPart) > 9 {
		return 0, fmt.Errorf("fixed: too many decimal places in %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	ip, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	var fp int64
	if fracPart != "" {
		fp, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("fixed: parse %q: %w", s, err)
		}
		for i := len(fracPart); i < 9; i++ {
			fp *= 10
		}
	}
	n, err := FromInt(ip)
	if err != nil {
		return 0, err
	}
	mag := int64(n) + fp
	if mag < 0 {
		return 0, ErrOverflow
	}
	if neg {
		return Num(-mag), nil
	}
	return Num(mag), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustFromString 同 FromString，解析失败时 panic；仅用于常量与测试。
func MustFromString(s string) Num {
	n, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Float 返回近似浮点值，仅用于日志与指标输出。
func (n Num) Float() float64 { return float64(n) / float64(Scale) }

// String 输出十进制表示，去除末尾多余的 0。
func (n Num) String() string {
	v := int64(n)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	ip, fp := v/Scale, v%Scale
	if fp == 0 {
		return sign + strconv.FormatInt(ip, 10)
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", fp), "0")
	return sign + strconv.FormatInt(ip, 10) + "." + frac
}

// IsZero 判零。
func (n Num) IsZero() bool { return n == 0 }

// IsPositive 判正。
func (n Num) IsPositive() bool { return n > 0 }

// IsNegative 判负。
func (n Num) IsNegative() bool { return n < 0 }

// Neg 取负。
func (n Num) Neg() Num { return -n }

// Abs 取绝对值。
func (n Num) Abs() Num {
	if n < 0 {
		return -n
	}
	return n
}

// Add 加法，带溢出检查。
func (n Num) Add(o Num) (Num, error) {
	sum := int64(n) + int64(o)
	if (int64(o) > 0 && sum < int64(n)) || (int64(o) < 0 && sum > int64(n)) {
		return 0, ErrOverflow
	}
	return Num(sum), nil
}

// Sub 减法，带溢出检查。
func (n Num) Sub(o Num) (Num, error) { return n.Add(-o) }

// Mul 定点乘法：(n*o)/Scale，中间值使用 128 位避免溢出。
func (n Num) Mul(o Num) (Num, error) {
	return muldiv(int64(n), int64(o), Scale)
}

// Div 定点除法：(n*Scale)/o。除零返回错误。
func (n Num) Div(o Num) (Num, error) {
	if o == 0 {
		return 0, errors.New("fixed: division by zero")
	}
	return muldiv(int64(n), Scale, int64(o))
}

// MulInt 乘以普通整数。
func (n Num) MulInt(v int64) (Num, error) {
	return muldiv(int64(n), v, 1)
}

// DivInt 除以普通整数。
func (n Num) DivInt(v int64) (Num, error) {
	if v == 0 {
		return 0, errors.New("fixed: division by zero")
	}
	return muldiv(int64(n), 1, v)
}

// muldiv 计算 a*b/c，中间结果为 128 位，结果超界返回 ErrOverflow。
func muldiv(a, b, c int64) (Num, error) {
	neg := false
	ua, ub, uc := uabs(a), uabs(b), uabs(c)
	if (a < 0) != (b < 0) {
		neg = !neg
	}
	if c < 0 {
		neg = !neg
	}
	hi, lo := bits.Mul64(ua, ub)
	if hi >= uc {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, uc)
	if neg {
		if q > uint64(math.MaxInt64)+1 {
			return 0, ErrOverflow
		}
		if q == uint64(math.MaxInt64)+1 {
			return Num(math.MinInt64), nil
		}
		return Num(-int64(q)), nil
	}
	if q > uint64(math.MaxInt64) {
		return 0, ErrOverflow
	}
	return Num(int64(q)), nil
}

func uabs(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

// Min 返回较小者。
func Min(a, b Num) Num {
	if a < b {
		return a
	}
	return b
}

// Max 返回较大者。
func Max(a, b Num) Num {
	if a > b {
		return a
	}
	return b
}
