package consensus

func AppendU16le(dst []byte, v uint16) []byte {
	return append(dst, byte(v), byte(v>>8))
}

func AppendU32le(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func AppendU64le(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56),
	)
}
