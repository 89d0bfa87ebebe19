//go:build rp2040 || rp2350

package strconvx

import "scalecode-go/x/conv"

type parseError struct{ s string }

func (e parseError) Error() string { return "strconvx: invalid syntax: " + e.s }

// digits consumes leading decimal digits of s.
func digits(s string) (v uint64, n int) {
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		v = v*10 + uint64(s[n]-'0')
		n++
	}
	return v, n
}

func sign(s string) (string, bool) {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		return s[1:], s[0] == '-'
	}
	return s, false
}

func Atoi(s string) (int, error) {
	in := s
	s, neg := sign(s)
	v, n := digits(s)
	if n == 0 || n != len(s) || n > 18 {
		return 0, parseError{in}
	}
	if neg {
		return -int(v), nil
	}
	return int(v), nil
}

// ParseFloat accepts [sign] digits [. digits]; at least one digit.
func ParseFloat(s string) (float64, error) {
	in := s
	s, neg := sign(s)
	ip, n := digits(s)
	s = s[n:]
	var frac float64
	var m int
	if len(s) > 0 && s[0] == '.' {
		var fp uint64
		fp, m = digits(s[1:])
		scale := 1.0
		for i := 0; i < m; i++ {
			scale *= 10
		}
		frac = float64(fp) / scale
		s = s[1+m:]
	}
	if n+m == 0 || len(s) != 0 {
		return 0, parseError{in}
	}
	v := float64(ip) + frac
	if neg {
		v = -v
	}
	return v, nil
}

// FormatFloat formats f in fixed point with prec decimals, prec < 0 meaning 6.
func FormatFloat(f float64, prec int) string {
	if prec < 0 {
		prec = 6
	}
	var b []byte
	if f < 0 {
		b = append(b, '-')
		f = -f
	}
	pow := uint64(1)
	for i := 0; i < prec; i++ {
		pow *= 10
	}
	// Round once at the last decimal so carries reach the integer part.
	scaled := uint64(f*float64(pow) + 0.5)
	b = conv.AppendUint(b, scaled/pow)
	if prec == 0 {
		return string(b)
	}
	b = append(b, '.')
	frac := conv.AppendUint(nil, scaled%pow)
	for i := len(frac); i < prec; i++ {
		b = append(b, '0')
	}
	return string(append(b, frac...))
}
