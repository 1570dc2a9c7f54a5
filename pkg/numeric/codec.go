package numeric

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// TextSentinel is the 4-byte ASCII marker that flags a text-mode numeric
// blob (spec.md §4.1/§4.10). Binary blobs instead begin with BinaryMagic.
const TextSentinel = "    "

// BinaryMagic identifies a binary-mode numeric blob.
var BinaryMagic = [4]byte{'N', 'V', 'B', '1'}

// Storage format bits. "dense" (plain float64, no quantization or
// zero-compression) is the absence of both bits; spec.md §4.1/§4.10 also
// allows the "both" combination of short-quantized and zeros-compressed
// together.
const (
	FlagShortQuantized uint8 = 1 << 0
	FlagZerosCompressed uint8 = 1 << 1
)

// quantBlockSize is the number of elements sharing one int16-quantization
// scale factor.
const quantBlockSize = 256

// EncodeFloats writes a self-describing binary numeric blob for vals:
// magic, flags, element count, then the chosen combination of plain
// float64, int16 short-quantized blocks, and/or zero-run-length
// compression.
func EncodeFloats(w io.Writer, vals []float64, shortQuantize, zeroCompress bool) error {
	flags := uint8(0)
	if shortQuantize {
		flags |= FlagShortQuantized
	}
	if zeroCompress {
		flags |= FlagZerosCompressed
	}

	buf := new(bytes.Buffer)
	buf.Write(BinaryMagic[:])
	if err := binary.Write(buf, binary.LittleEndian, flags); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint64(len(vals))); err != nil {
		return err
	}

	if shortQuantize {
		scales, quantized := quantize(vals)
		if err := binary.Write(buf, binary.LittleEndian, uint32(quantBlockSize)); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(scales))); err != nil {
			return err
		}
		for _, s := range scales {
			if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
				return err
			}
		}
		if zeroCompress {
			if err := writeRunsInt16(buf, quantized); err != nil {
				return err
			}
		} else {
			if err := binary.Write(buf, binary.LittleEndian, quantized); err != nil {
				return err
			}
		}
	} else {
		if zeroCompress {
			if err := writeRunsFloat64(buf, vals); err != nil {
				return err
			}
		} else {
			if err := binary.Write(buf, binary.LittleEndian, vals); err != nil {
				return err
			}
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeFloats reads a blob written by EncodeFloats. It returns
// InvalidFormat if the magic does not match.
func DecodeFloats(r io.Reader) ([]float64, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != BinaryMagic {
		return nil, connerr.New(connerr.KindInvalidFormat, "DecodeFloats", nil)
	}

	var flags uint8
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, err
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	shortQuantize := flags&FlagShortQuantized != 0
	zeroCompress := flags&FlagZerosCompressed != 0

	if shortQuantize {
		var blockSize, numBlocks uint32
		if err := binary.Read(r, binary.LittleEndian, &blockSize); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &numBlocks); err != nil {
			return nil, err
		}
		scales := make([]float64, numBlocks)
		for i := range scales {
			if err := binary.Read(r, binary.LittleEndian, &scales[i]); err != nil {
				return nil, err
			}
		}

		var quantized []int16
		if zeroCompress {
			q, err := readRunsInt16(r, int(count))
			if err != nil {
				return nil, err
			}
			quantized = q
		} else {
			quantized = make([]int16, count)
			if err := binary.Read(r, binary.LittleEndian, quantized); err != nil {
				return nil, err
			}
		}
		return dequantize(scales, int(blockSize), quantized), nil
	}

	if zeroCompress {
		return readRunsFloat64(r, int(count))
	}

	vals := make([]float64, count)
	if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// quantize splits vals into quantBlockSize-sized blocks, each scaled so
// its largest-magnitude element maps to ±32767, and rounds every element
// to the nearest int16.
func quantize(vals []float64) ([]float64, []int16) {
	numBlocks := (len(vals) + quantBlockSize - 1) / quantBlockSize
	if numBlocks == 0 {
		return nil, nil
	}
	scales := make([]float64, numBlocks)
	quantized := make([]int16, len(vals))

	for b := 0; b < numBlocks; b++ {
		start := b * quantBlockSize
		end := start + quantBlockSize
		if end > len(vals) {
			end = len(vals)
		}
		var maxAbs float64
		for _, v := range vals[start:end] {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
		scale := 1.0
		if maxAbs > 0 {
			scale = maxAbs / 32767.0
		}
		scales[b] = scale
		for i := start; i < end; i++ {
			q := vals[i] / scale
			quantized[i] = int16(math.Round(q))
		}
	}
	return scales, quantized
}

func dequantize(scales []float64, blockSize int, quantized []int16) []float64 {
	out := make([]float64, len(quantized))
	for i, q := range quantized {
		b := i / blockSize
		if b >= len(scales) {
			b = len(scales) - 1
		}
		out[i] = float64(q) * scales[b]
	}
	return out
}

// writeRunsFloat64 run-length-encodes spans of exact zero: each record is
// [isZero byte][runLen uint32], followed by that many raw float64 values
// when isZero is 0.
func writeRunsFloat64(w io.Writer, vals []float64) error {
	i := 0
	for i < len(vals) {
		if vals[i] == 0 {
			j := i
			for j < len(vals) && vals[j] == 0 {
				j++
			}
			if err := writeRunHeader(w, true, uint32(j-i)); err != nil {
				return err
			}
			i = j
			continue
		}
		j := i
		for j < len(vals) && vals[j] != 0 {
			j++
		}
		if err := writeRunHeader(w, false, uint32(j-i)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, vals[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func readRunsFloat64(r io.Reader, count int) ([]float64, error) {
	out := make([]float64, 0, count)
	for len(out) < count {
		isZero, n, err := readRunHeader(r)
		if err != nil {
			return nil, err
		}
		if isZero {
			out = append(out, make([]float64, n)...)
			continue
		}
		vals := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func writeRunsInt16(w io.Writer, vals []int16) error {
	i := 0
	for i < len(vals) {
		if vals[i] == 0 {
			j := i
			for j < len(vals) && vals[j] == 0 {
				j++
			}
			if err := writeRunHeader(w, true, uint32(j-i)); err != nil {
				return err
			}
			i = j
			continue
		}
		j := i
		for j < len(vals) && vals[j] != 0 {
			j++
		}
		if err := writeRunHeader(w, false, uint32(j-i)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, vals[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func readRunsInt16(r io.Reader, count int) ([]int16, error) {
	out := make([]int16, 0, count)
	for len(out) < count {
		isZero, n, err := readRunHeader(r)
		if err != nil {
			return nil, err
		}
		if isZero {
			out = append(out, make([]int16, n)...)
			continue
		}
		vals := make([]int16, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func writeRunHeader(w io.Writer, isZero bool, n uint32) error {
	var b uint8
	if isZero {
		b = 1
	}
	if err := binary.Write(w, binary.LittleEndian, b); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, n)
}

func readRunHeader(r io.Reader) (bool, uint32, error) {
	var b uint8
	if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
		return false, 0, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return false, 0, err
	}
	return b == 1, n, nil
}
