package validator

// HeaderValLossy converts an arbitrary byte sequence into a valid HTTP
// header field-value: every byte must be a field-vchar (>= 0x20 and != 0x7f)
// or a tab; anything else is replaced with '?'. Length is always preserved.
func HeaderValLossy(s string) string {
	b := []byte(s)
	out := make([]byte, len(b))
	for i, c := range b {
		if isValidFieldByte(c) {
			out[i] = c
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}

func isValidFieldByte(b byte) bool {
	return (b >= 32 && b != 127) || b == '\t'
}
