// utilitários pequenos para formatação consistente de valores em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// ceilSeconds arredonda para cima; Retry-After nunca deve ser 0 em uma negação.
func ceilSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

// unixCeil retorna o timestamp Unix (segundos) arredondado para cima.
func unixCeil(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() != 0 {
		s++
	}
	return s
}
