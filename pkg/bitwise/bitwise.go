package bitwise

// Unsigned covers the flag widths used in page and cell headers.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

func Unset[T Unsigned](n T, k int) T {
	return n &^ (T(1) << k) // AND NOT
}

func Set[T Unsigned](n T, k int) T {
	return n | (T(1) << k) // OR
}

func Toggle[T Unsigned](n T, k int) T {
	return n ^ (T(1) << k) // XOR
}

func IsSet[T Unsigned](n T, k int) bool {
	return n&(T(1)<<k) > 0
}
