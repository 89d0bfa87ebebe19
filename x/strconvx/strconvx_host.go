//go:build !(rp2040 || rp2350)

package strconvx

import "strconv"

func Atoi(s string) (int, error) { return strconv.Atoi(s) }

func ParseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func FormatFloat(f float64, prec int) string { return strconv.FormatFloat(f, 'f', prec, 64) }
