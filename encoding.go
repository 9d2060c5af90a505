package main

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// wireEncoding maps an encoding setting to its codec. Unknown names fall
// back to Latin-1, which most games speak.
func wireEncoding(name string) encoding.Encoding {
	switch name {
	case encodingMacRoman:
		return charmap.Macintosh
	case encodingUTF8:
		return encoding.Nop
	}
	return charmap.ISO8859_1
}

func encodeLine(enc encoding.Encoding, s string) []byte {
	b, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

func decodeLine(enc encoding.Encoding, b []byte) string {
	s, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
