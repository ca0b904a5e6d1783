package encode

import "encoding/binary"

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	nalTypeSlice      = 1
	nalTypeIDR        = 5
	nalTypeSEI        = 6
	nalTypeSPS        = 7
	nalTypePPS        = 8
	nalTypeAUD        = 9
	nalTypeFillerData = 12
)

func nalType(nal []byte) int {
	if len(nal) == 0 {
		return -1
	}
	return int(nal[0] & 0x1F)
}

// accessUnit is one picture's worth of NAL units.
type accessUnit struct {
	nalus    [][]byte
	keyframe bool
}

// auParser incrementally splits an Annex B byte stream into access units.
// The encoder child process is configured to insert access unit delimiters
// (NAL type 9), so AU boundaries are exactly the AUD positions. Parameter
// sets are captured as they appear so the muxer can write track headers.
type auParser struct {
	buf []byte // undelivered stream tail

	current accessUnit
	started bool // an AUD for the current AU has been seen

	sps []byte
	pps []byte
}

// feed appends stream bytes and returns any access units completed by them.
func (p *auParser) feed(data []byte) []accessUnit {
	p.buf = append(p.buf, data...)

	var done []accessUnit
	for {
		nal, rest, ok := nextNALU(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		if au, complete := p.take(nal); complete {
			done = append(done, au)
		}
	}
	return done
}

// finish flushes the parser at end of stream, returning the trailing NAL (if
// the stream did not end on a start code) and the final access unit.
func (p *auParser) finish() []accessUnit {
	var done []accessUnit
	if nal := trimStartCode(p.buf); len(nal) > 0 {
		if au, complete := p.take(nal); complete {
			done = append(done, au)
		}
	}
	p.buf = nil
	if p.started && len(p.current.nalus) > 0 {
		done = append(done, p.current)
	}
	p.current = accessUnit{}
	p.started = false
	return done
}

// take routes one NAL unit into the current access unit. It returns the
// previous access unit when the NAL is an AUD that closes it.
func (p *auParser) take(nal []byte) (accessUnit, bool) {
	switch nalType(nal) {
	case nalTypeAUD:
		prev := p.current
		complete := p.started && len(prev.nalus) > 0
		p.current = accessUnit{}
		p.started = true
		return prev, complete
	case nalTypeFillerData:
		return accessUnit{}, false
	case nalTypeSPS:
		p.sps = append([]byte(nil), nal...)
	case nalTypePPS:
		p.pps = append([]byte(nil), nal...)
	case nalTypeIDR:
		p.current.keyframe = true
	}
	if p.started {
		p.current.nalus = append(p.current.nalus, nal)
	}
	return accessUnit{}, false
}

// nextNALU extracts the first complete NAL unit from buf: the bytes between
// the first start code and the next one. It reports false when buf does not
// yet contain two start codes.
func nextNALU(buf []byte) (nal, rest []byte, ok bool) {
	start := findStartCode(buf, 0)
	if start < 0 {
		return nil, buf, false
	}
	body := skipStartCode(buf, start)
	next := findStartCode(buf, body)
	if next < 0 {
		return nil, buf, false
	}
	return buf[body:next], buf[next:], true
}

// findStartCode returns the index of the next 00 00 01 or 00 00 00 01
// sequence at or after from, or -1.
func findStartCode(buf []byte, from int) int {
	for i := from; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 {
			if buf[i+2] == 1 {
				return i
			}
			if buf[i+2] == 0 && i+3 < len(buf) && buf[i+3] == 1 {
				return i
			}
		}
	}
	return -1
}

func skipStartCode(buf []byte, at int) int {
	if buf[at+2] == 1 {
		return at + 3
	}
	return at + 4
}

func trimStartCode(buf []byte) []byte {
	at := findStartCode(buf, 0)
	if at < 0 {
		return nil
	}
	return buf[skipStartCode(buf, at):]
}

// avcc serializes an access unit's NAL units in length-prefixed AVCC form,
// the sample format MP4 tracks carry.
func avcc(nalus [][]byte) []byte {
	size := 0
	for _, nal := range nalus {
		size += 4 + len(nal)
	}
	out := make([]byte, 0, size)
	var hdr [4]byte
	for _, nal := range nalus {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(nal)))
		out = append(out, hdr[:]...)
		out = append(out, nal...)
	}
	return out
}
