package http

import "errors"

var errInvalidNumber = errors.New("http: invalid number")

func atoi(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 18 {
		return 0, errInvalidNumber
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errInvalidNumber
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

// parseHex parses a chunk size line.
func parseHex(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 15 {
		return 0, errInvalidNumber
	}
	var n int64
	for _, c := range b {
		d := hexToByte(c)
		if d == 255 {
			return 0, errInvalidNumber
		}
		n = n<<4 | int64(d)
	}
	return n, nil
}

// appendInt writes n in decimal without allocating.
func appendInt(dst []byte, n int64) []byte {
	if n == 0 {
		return append(dst, '0')
	}

	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = '0' + byte(n%10)
		n /= 10
	}
	return append(dst, buf[i:]...)
}

// appendHex writes n in lower case hex without allocating.
func appendHex(dst []byte, n int64) []byte {
	if n == 0 {
		return append(dst, '0')
	}

	const hexDigits = "0123456789abcdef"
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hexDigits[n&0xF]
		n >>= 4
	}
	return append(dst, buf[i:]...)
}

func hexToByte(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 255 // Invalid hex
}
