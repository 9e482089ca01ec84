package h264

// Default scaling lists of Table 7-3 and 7-4, in zig-zag scan order.
var (
	default4x4Intra = [16]uint8{6, 13, 13, 20, 20, 20, 28, 28, 28, 28, 32, 32, 32, 37, 37, 42}
	default4x4Inter = [16]uint8{10, 14, 14, 20, 20, 20, 24, 24, 24, 24, 27, 27, 27, 30, 30, 34}

	default8x8Intra = [64]uint8{
		6, 10, 10, 13, 11, 13, 16, 16, 16, 16, 18, 18, 18, 18, 18, 23,
		23, 23, 23, 23, 23, 25, 25, 25, 25, 25, 25, 25, 27, 27, 27, 27,
		27, 27, 27, 27, 29, 29, 29, 29, 29, 29, 29, 31, 31, 31, 31, 31,
		31, 33, 33, 33, 33, 33, 36, 36, 36, 36, 38, 38, 38, 40, 40, 42,
	}
	default8x8Inter = [64]uint8{
		9, 13, 13, 15, 13, 15, 17, 17, 17, 17, 19, 19, 19, 19, 19, 21,
		21, 21, 21, 21, 21, 22, 22, 22, 22, 22, 22, 22, 24, 24, 24, 24,
		24, 24, 24, 24, 25, 25, 25, 25, 25, 25, 25, 27, 27, 27, 27, 27,
		27, 28, 28, 28, 28, 28, 30, 30, 30, 30, 32, 32, 32, 33, 33, 35,
	}
)

// ScalingMatrix holds the six 4x4 and up to six 8x8 scaling lists in
// effect for a picture.
type ScalingMatrix struct {
	List4x4 [6][16]uint8
	List8x8 [6][64]uint8
}

// flatScalingMatrix is Flat_4x4_16 and Flat_8x8_16.
func flatScalingMatrix() ScalingMatrix {
	var m ScalingMatrix
	for i := range m.List4x4 {
		for j := range m.List4x4[i] {
			m.List4x4[i][j] = 16
		}
	}
	for i := range m.List8x8 {
		for j := range m.List8x8[i] {
			m.List8x8[i][j] = 16
		}
	}
	return m
}

// scalingListSyntax is one transmitted (or absent) scaling list.
type scalingListSyntax struct {
	Present    bool
	UseDefault bool
	Values     []uint8
}

// scalingMatrixSyntax is the scaling list syntax of an SPS or PPS before
// fall-back rules are applied. Index i follows the syntax order: 0-5 are
// 4x4 lists, 6-11 are 8x8 lists.
type scalingMatrixSyntax struct {
	Lists [12]scalingListSyntax
	Count int
}

// readScalingList reads scaling_list() (7.3.2.1.1.1).
func readScalingList(r *syntaxReader, size int) scalingListSyntax {
	out := scalingListSyntax{Present: true, Values: make([]uint8, size)}
	last, next := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if next != 0 {
			delta := r.se("delta_scale")
			if r.err != nil {
				return out
			}
			if delta < -128 || delta > 127 {
				r.fail("delta_scale", errOutOfRange(int64(delta)))
				return out
			}
			next = (last + delta + 256) % 256
			if j == 0 && next == 0 {
				out.UseDefault = true
				return out
			}
		}
		if next != 0 {
			out.Values[j] = uint8(next)
		} else {
			out.Values[j] = uint8(last)
		}
		last = int32(out.Values[j])
	}
	return out
}

// readScalingMatrix reads count scaling_list_present_flag entries and their
// lists.
func readScalingMatrix(r *syntaxReader, count int) scalingMatrixSyntax {
	m := scalingMatrixSyntax{Count: count}
	for i := 0; i < count && r.err == nil; i++ {
		if !r.flag("scaling_list_present_flag") {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		m.Lists[i] = readScalingList(r, size)
	}
	return m
}

func defaultList(i int) []uint8 {
	switch {
	case i < 3:
		return default4x4Intra[:]
	case i < 6:
		return default4x4Inter[:]
	case i%2 == 0:
		return default8x8Intra[:]
	default:
		return default8x8Inter[:]
	}
}

// resolve applies the fall-back rules to the syntax. With base nil it is
// fall-back rule A, where the first list of each kind falls back to the
// default table. Otherwise it is rule B, where that list falls back to the
// same list of base. Every other absent list copies the previous list of
// its kind.
func (s *scalingMatrixSyntax) resolve(base *ScalingMatrix) ScalingMatrix {
	var m ScalingMatrix
	get := func(i int) []uint8 {
		if i < 6 {
			return m.List4x4[i][:]
		}
		return m.List8x8[i-6][:]
	}

	for i := 0; i < 12; i++ {
		dst := get(i)
		l := s.Lists[i]
		switch {
		case l.Present && l.UseDefault:
			copy(dst, defaultList(i))
		case l.Present:
			copy(dst, l.Values)
		case i == 0 || i == 3 || i == 6 || i == 7:
			if base != nil {
				if i < 6 {
					copy(dst, base.List4x4[i][:])
				} else {
					copy(dst, base.List8x8[i-6][:])
				}
			} else {
				copy(dst, defaultList(i))
			}
		case i >= 8:
			copy(dst, get(i-2))
		default:
			copy(dst, get(i-1))
		}
	}
	return m
}
