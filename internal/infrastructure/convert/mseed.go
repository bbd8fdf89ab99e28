package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"
)

// Data encodings from blockette 1000.
const (
	encInt16   = 1
	encInt32   = 3
	encFloat32 = 4
	encFloat64 = 5
	encSteim1  = 10
	encSteim2  = 11
)

const (
	fixedHeaderLen = 48
	steimFrameLen  = 64
)

// ErrMalformedRecord marks a miniSEED record that cannot be decoded.
var ErrMalformedRecord = errors.New("mseed: malformed record")

// Record is one decoded miniSEED data record.
type Record struct {
	ID         string
	Start      time.Time
	SampleRate float64
	Samples    []int32
}

// Trace is a gap-filled series for one channel.
type Trace struct {
	ID         string
	Start      time.Time
	SampleRate float64
	Samples    []int32
}

// ReadMiniSEED decodes every data record of a miniSEED 2 file.
func ReadMiniSEED(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mseed: %w", err)
	}
	return DecodeMiniSEED(raw)
}

// DecodeMiniSEED decodes a byte stream of concatenated records.
func DecodeMiniSEED(raw []byte) ([]Record, error) {
	var records []Record
	for off := 0; off < len(raw); {
		if len(raw)-off < fixedHeaderLen {
			break
		}
		rec, length, err := decodeRecord(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", off, err)
		}
		if rec != nil {
			records = append(records, *rec)
		}
		off += length
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no data records", ErrMalformedRecord)
	}
	return records, nil
}

func decodeRecord(buf []byte) (*Record, int, error) {
	quality := buf[6]
	switch quality {
	case 'D', 'R', 'Q', 'M':
	default:
		// Blank or padding record; skip the smallest legal record length.
		return nil, 256, nil
	}

	order := headerByteOrder(buf)

	nsamp := int(order.Uint16(buf[30:32]))
	factor := int16(order.Uint16(buf[32:34]))
	mult := int16(order.Uint16(buf[34:36]))
	activity := buf[36]
	nblockettes := int(buf[39])
	correction := int32(order.Uint32(buf[40:44]))
	dataOffset := int(order.Uint16(buf[44:46]))
	blkOffset := int(order.Uint16(buf[46:48]))

	start, err := btime(buf[20:30], order)
	if err != nil {
		return nil, 0, err
	}

	encoding, recLen, microsec := -1, 0, 0
	var dataOrder binary.ByteOrder = binary.BigEndian
	for seen := 0; blkOffset != 0 && seen < nblockettes; seen++ {
		if blkOffset+4 > len(buf) {
			return nil, 0, fmt.Errorf("%w: blockette offset %d", ErrMalformedRecord, blkOffset)
		}
		kind := order.Uint16(buf[blkOffset:])
		next := int(order.Uint16(buf[blkOffset+2:]))
		switch kind {
		case 1000:
			if blkOffset+8 > len(buf) {
				return nil, 0, fmt.Errorf("%w: short blockette 1000", ErrMalformedRecord)
			}
			encoding = int(buf[blkOffset+4])
			if buf[blkOffset+5] == 0 {
				dataOrder = binary.LittleEndian
			}
			recLen = 1 << buf[blkOffset+6]
		case 1001:
			if blkOffset+6 <= len(buf) {
				microsec = int(int8(buf[blkOffset+5]))
			}
		}
		if next <= blkOffset {
			break
		}
		blkOffset = next
	}

	if encoding < 0 || recLen == 0 {
		return nil, 0, fmt.Errorf("%w: missing blockette 1000", ErrMalformedRecord)
	}
	if recLen > len(buf) {
		return nil, 0, fmt.Errorf("%w: record length %d exceeds remaining %d bytes", ErrMalformedRecord, recLen, len(buf))
	}
	if dataOffset < fixedHeaderLen || dataOffset > recLen {
		return nil, 0, fmt.Errorf("%w: data offset %d", ErrMalformedRecord, dataOffset)
	}

	// Bit 1 of the activity flags says the correction is already applied.
	if activity&0x02 == 0 {
		start = start.Add(time.Duration(correction) * 100 * time.Microsecond)
	}
	start = start.Add(time.Duration(microsec) * time.Microsecond)

	samples, err := decodeData(buf[dataOffset:recLen], encoding, dataOrder, nsamp)
	if err != nil {
		return nil, 0, err
	}

	rec := &Record{
		ID:         sourceID(buf),
		Start:      start,
		SampleRate: sampleRate(factor, mult),
		Samples:    samples,
	}
	return rec, recLen, nil
}

// headerByteOrder guesses the header byte order from the year field.
func headerByteOrder(buf []byte) binary.ByteOrder {
	year := binary.BigEndian.Uint16(buf[20:22])
	if year >= 1900 && year <= 2100 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func btime(b []byte, order binary.ByteOrder) (time.Time, error) {
	year := int(order.Uint16(b[0:2]))
	doy := int(order.Uint16(b[2:4]))
	hour, minute, sec := int(b[4]), int(b[5]), int(b[6])
	fract := int(order.Uint16(b[8:10]))
	if doy < 1 || doy > 366 || hour > 23 || minute > 59 || sec > 60 {
		return time.Time{}, fmt.Errorf("%w: invalid start time", ErrMalformedRecord)
	}
	t := time.Date(year, time.January, 1, hour, minute, sec, 0, time.UTC)
	t = t.AddDate(0, 0, doy-1)
	return t.Add(time.Duration(fract) * 100 * time.Microsecond), nil
}

func sampleRate(factor, mult int16) float64 {
	f, m := float64(factor), float64(mult)
	switch {
	case factor == 0:
		return 0
	case factor > 0 && mult > 0:
		return f * m
	case factor > 0 && mult < 0:
		return -f / m
	case factor < 0 && mult > 0:
		return -m / f
	case factor < 0 && mult < 0:
		return 1 / (f * m)
	case factor > 0:
		return f
	default:
		return -1 / f
	}
}

func sourceID(buf []byte) string {
	trim := func(b []byte) string { return string(bytes.TrimSpace(b)) }
	return fmt.Sprintf("%s.%s.%s.%s", trim(buf[18:20]), trim(buf[8:13]), trim(buf[13:15]), trim(buf[15:18]))
}

func decodeData(data []byte, encoding int, order binary.ByteOrder, nsamp int) ([]int32, error) {
	switch encoding {
	case encInt16:
		return decodeFixed(data, 2, nsamp, func(b []byte) int32 { return int32(int16(order.Uint16(b))) })
	case encInt32:
		return decodeFixed(data, 4, nsamp, func(b []byte) int32 { return int32(order.Uint32(b)) })
	case encFloat32:
		return decodeFixed(data, 4, nsamp, func(b []byte) int32 {
			return clampRound(float64(math.Float32frombits(order.Uint32(b))))
		})
	case encFloat64:
		return decodeFixed(data, 8, nsamp, func(b []byte) int32 {
			return clampRound(math.Float64frombits(order.Uint64(b)))
		})
	case encSteim1:
		return decodeSteim(data, order, nsamp, steim1Diffs)
	case encSteim2:
		return decodeSteim(data, order, nsamp, steim2Diffs)
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %d", ErrMalformedRecord, encoding)
	}
}

func decodeFixed(data []byte, width, nsamp int, read func([]byte) int32) ([]int32, error) {
	if len(data) < width*nsamp {
		return nil, fmt.Errorf("%w: %d samples need %d bytes, have %d", ErrMalformedRecord, nsamp, width*nsamp, len(data))
	}
	out := make([]int32, nsamp)
	for i := range out {
		out[i] = read(data[i*width:])
	}
	return out, nil
}

func clampRound(v float64) int32 {
	v = math.Round(v)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// diffFunc unpacks the differences stored in one Steim word.
type diffFunc func(word uint32, nibble uint32) ([]int32, error)

func decodeSteim(data []byte, order binary.ByteOrder, nsamp int, unpack diffFunc) ([]int32, error) {
	if nsamp == 0 {
		return nil, nil
	}
	nframes := len(data) / steimFrameLen
	if nframes == 0 {
		return nil, fmt.Errorf("%w: no steim frames", ErrMalformedRecord)
	}

	var x0 int32
	diffs := make([]int32, 0, nsamp)
	for f := 0; f < nframes && len(diffs) < nsamp; f++ {
		frame := data[f*steimFrameLen : (f+1)*steimFrameLen]
		control := order.Uint32(frame[0:4])
		for w := 1; w < 16; w++ {
			word := order.Uint32(frame[w*4:])
			nibble := (control >> (30 - 2*uint(w))) & 0x3
			if f == 0 && w == 1 {
				x0 = int32(word)
				continue
			}
			if f == 0 && w == 2 {
				// reverse integration constant
				continue
			}
			if nibble == 0 {
				continue
			}
			d, err := unpack(word, nibble)
			if err != nil {
				return nil, err
			}
			diffs = append(diffs, d...)
		}
	}

	if len(diffs) < nsamp {
		return nil, fmt.Errorf("%w: steim frames hold %d of %d samples", ErrMalformedRecord, len(diffs), nsamp)
	}

	out := make([]int32, nsamp)
	out[0] = x0
	for i := 1; i < nsamp; i++ {
		out[i] = out[i-1] + diffs[i]
	}
	return out, nil
}

func steim1Diffs(word, nibble uint32) ([]int32, error) {
	switch nibble {
	case 1:
		return []int32{
			int32(int8(word >> 24)), int32(int8(word >> 16)),
			int32(int8(word >> 8)), int32(int8(word)),
		}, nil
	case 2:
		return []int32{int32(int16(word >> 16)), int32(int16(word))}, nil
	case 3:
		return []int32{int32(word)}, nil
	}
	return nil, nil
}

func steim2Diffs(word, nibble uint32) ([]int32, error) {
	if nibble == 1 {
		return steim1Diffs(word, 1)
	}
	dnib := word >> 30
	switch {
	case nibble == 2 && dnib == 1:
		return unpackBits(word, 1, 30), nil
	case nibble == 2 && dnib == 2:
		return unpackBits(word, 2, 15), nil
	case nibble == 2 && dnib == 3:
		return unpackBits(word, 3, 10), nil
	case nibble == 3 && dnib == 0:
		return unpackBits(word, 5, 6), nil
	case nibble == 3 && dnib == 1:
		return unpackBits(word, 6, 5), nil
	case nibble == 3 && dnib == 2:
		return unpackBits(word, 7, 4), nil
	}
	return nil, fmt.Errorf("%w: steim2 nibble %d dnib %d", ErrMalformedRecord, nibble, dnib)
}

// unpackBits splits the low 30 bits of word into count signed values of
// width bits, most significant first.
func unpackBits(word uint32, count, width uint) []int32 {
	out := make([]int32, count)
	mask := uint32(1)<<width - 1
	for i := uint(0); i < count; i++ {
		shift := (count - 1 - i) * width
		v := (word >> shift) & mask
		// sign-extend
		out[i] = int32(v<<(32-width)) >> (32 - width)
	}
	return out
}

// Merge joins the records of the first channel into one trace, filling gaps
// with zeros. Overlapping samples are overwritten by later records.
func Merge(records []Record) (Trace, error) {
	if len(records) == 0 {
		return Trace{}, fmt.Errorf("%w: nothing to merge", ErrMalformedRecord)
	}

	id := records[0].ID
	rate := records[0].SampleRate
	if rate <= 0 {
		return Trace{}, fmt.Errorf("%w: sample rate %v", ErrMalformedRecord, rate)
	}

	var same []Record
	for _, r := range records {
		if r.ID == id && r.SampleRate == rate {
			same = append(same, r)
		}
	}
	sort.SliceStable(same, func(i, j int) bool { return same[i].Start.Before(same[j].Start) })

	start := same[0].Start
	indexOf := func(t time.Time) int {
		return int(math.Round(t.Sub(start).Seconds() * rate))
	}

	total := 0
	for _, r := range same {
		if end := indexOf(r.Start) + len(r.Samples); end > total {
			total = end
		}
	}

	samples := make([]int32, total)
	for _, r := range same {
		copy(samples[indexOf(r.Start):], r.Samples)
	}

	return Trace{ID: id, Start: start, SampleRate: rate, Samples: samples}, nil
}
