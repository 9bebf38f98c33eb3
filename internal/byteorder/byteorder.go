package byteorder

import (
	"encoding/binary"
	"math"
)

// https://linux.die.net/man/3/ntohl

// decrypt names:
// h = host
// n = network (big endian)
// l = long  = 32 bit unsigned
// f = float = 32 bit ieee 754

func Htonl(val uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, val)
	return buf
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

// Htonf writes the ieee 754 bits of val; NaN payloads survive the trip.
func Htonf(val float32) []byte {
	return Htonl(math.Float32bits(val))
}

func Ntohf(buf []byte) float32 {
	return math.Float32frombits(Ntohl(buf))
}
