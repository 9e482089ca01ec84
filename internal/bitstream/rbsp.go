package bitstream

// RemoveEmulationPrevention strips every 0x03 that follows two zero bytes,
// converting a NAL payload into its RBSP.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeroCount := 0

	for _, b := range data {
		if zeroCount >= 2 && b == 0x03 {
			zeroCount = 0
			continue
		}
		if b == 0x00 {
			zeroCount++
		} else {
			zeroCount = 0
		}
		out = append(out, b)
	}

	return out
}

// AddEmulationPrevention inserts 0x03 wherever two zero bytes are followed
// by a byte no greater than 0x03.
func AddEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data)*3/2)
	zeroCount := 0

	for _, b := range data {
		if zeroCount >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeroCount = 0
		}
		if b == 0x00 {
			zeroCount++
		} else {
			zeroCount = 0
		}
		out = append(out, b)
	}

	return out
}
