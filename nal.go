package simcast

// H.264 Annex-B NAL unit scanning and AVCC conversion helpers.

import "strconv"

// NAL unit types per ITU-T H.264 Table 7-1.
const (
	NALTypeNonIDR byte = 1 // Non-IDR slice
	NALTypeIDR    byte = 5 // IDR slice (keyframe)
	NALTypeSEI    byte = 6 // Supplemental enhancement information
	NALTypeSPS    byte = 7 // Sequence parameter set
	NALTypePPS    byte = 8 // Picture parameter set
	NALTypeAUD    byte = 9 // Access unit delimiter
)

// annexBStartCode is the 4-byte start code used when building streams.
var annexBStartCode = []byte{0, 0, 0, 1}

// isAnnexBStartCode checks for an H.264 Annex-B start code at the head of data.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return false
}

// firstNALType extracts the NAL unit type following the leading start code.
// Per ITU-T H.264 Section 7.3.1 the type is the lower 5 bits of the NAL
// header byte. Returns 0 if data does not start with a start code.
func firstNALType(data []byte) byte {
	if len(data) < 4 {
		return 0
	}
	offset := 3
	if data[2] == 0 {
		offset = 4
	}
	if len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F
}

// WalkNALUnits calls fn with the type of each NAL unit found in the
// Annex-B buffer. Walking stops early when fn returns false.
func WalkNALUnits(data []byte, fn func(nalType byte) bool) {
	i := 0
	for i < len(data)-4 {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if !fn(data[i+4] & 0x1F) {
				return
			}
			i += 4
		} else if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if !fn(data[i+3] & 0x1F) {
				return
			}
			i += 3
		} else {
			i++
		}
	}
}

// IsKeyframe reports whether the Annex-B buffer can start a decode.
// Classification is deliberately permissive: IDR slices, SPS and PPS all
// qualify, since capture sources may send parameter sets inline with the
// sync frame. Buffers under 5 bytes never qualify.
func IsKeyframe(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	key := false
	WalkNALUnits(data, func(nalType byte) bool {
		if nalType == NALTypeIDR || nalType == NALTypeSPS || nalType == NALTypePPS {
			key = true
			return false
		}
		return true
	})
	return key
}

// NALTypeName returns a human-readable name for a NAL unit type.
func NALTypeName(nalType byte) string {
	switch nalType {
	case NALTypeNonIDR:
		return "non-IDR"
	case NALTypeIDR:
		return "IDR"
	case NALTypeSEI:
		return "SEI"
	case NALTypeSPS:
		return "SPS"
	case NALTypePPS:
		return "PPS"
	case NALTypeAUD:
		return "AUD"
	default:
		return "type-" + strconv.Itoa(int(nalType))
	}
}

// DescribeNALUnits returns the names of all NAL units in the buffer,
// in stream order. Used for connection diagnostics.
func DescribeNALUnits(data []byte) []string {
	var names []string
	WalkNALUnits(data, func(nalType byte) bool {
		names = append(names, NALTypeName(nalType))
		return true
	})
	return names
}

// ExtractAVCConfig parses an AVCDecoderConfigurationRecord (ISO/IEC
// 14496-15) and returns the first SPS and PPS it contains.
func ExtractAVCConfig(data []byte) (sps, pps []byte) {
	if len(data) < 8 {
		return
	}
	offset := 5
	numSPS := int(data[offset] & 0x1F)
	offset++

	for i := 0; i < numSPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length <= len(data) {
			sps = make([]byte, length)
			copy(sps, data[offset:offset+length])
			offset += length
		}
	}

	if offset >= len(data) {
		return
	}
	numPPS := int(data[offset])
	offset++

	for i := 0; i < numPPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length <= len(data) {
			pps = make([]byte, length)
			copy(pps, data[offset:offset+length])
			offset += length
		}
	}
	return
}

// ParseAVCCNALUs splits length-prefixed AVCC data into individual NAL units.
func ParseAVCCNALUs(data []byte) [][]byte {
	var nalus [][]byte
	for offset := 0; offset+4 <= len(data); {
		length := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if length <= 0 || offset+length > len(data) {
			break
		}
		nalu := make([]byte, length)
		copy(nalu, data[offset:offset+length])
		nalus = append(nalus, nalu)
		offset += length
	}
	return nalus
}

// BuildAnnexB joins NAL units with 4-byte start codes.
func BuildAnnexB(nalus [][]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, annexBStartCode...)
		out = append(out, nalu...)
	}
	return out
}

// BuildParameterSets produces an Annex-B SPS+PPS block suitable for
// prepending to a keyframe.
func BuildParameterSets(sps, pps []byte) []byte {
	if len(sps) == 0 && len(pps) == 0 {
		return nil
	}
	var out []byte
	if len(sps) > 0 {
		out = append(out, annexBStartCode...)
		out = append(out, sps...)
	}
	if len(pps) > 0 {
		out = append(out, annexBStartCode...)
		out = append(out, pps...)
	}
	return out
}
