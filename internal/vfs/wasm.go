package vfs

// Header is the preamble of every WebAssembly binary: "\0asm" followed by
// format version 1.
var Header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// AppendCustomSection appends a custom section (id 0) to a module.
func AppendCustomSection(module []byte, name string, data []byte) []byte {
	body := appendULEB128(nil, uint64(len(name)))
	body = append(body, name...)
	body = append(body, data...)

	module = append(module, 0x00)
	module = appendULEB128(module, uint64(len(body)))
	return append(module, body...)
}

func appendULEB128(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}
