// Package gguf reads the header and metadata section of GGUF model files.
//
// Only what is needed to sanity-check a model before handing it to the
// inference engine is decoded: magic, version, tensor count and the key/value
// metadata table. Array values are counted but their elements are skipped.
package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Magic is the little-endian encoding of "GGUF".
const Magic uint32 = 0x46554747

// Limits guarding against corrupt headers allocating unbounded memory.
const (
	maxStringLen = 16 << 20
	maxKVCount   = 1 << 20
	maxArrayLen  = 1 << 28
)

// ValueType enumerates GGUF metadata value types.
type ValueType uint32

const (
	TypeUint8 ValueType = iota
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
	TypeBool
	TypeString
	TypeArray
	TypeUint64
	TypeInt64
	TypeFloat64
)

// Array describes an array value without its elements.
type Array struct {
	Type ValueType
	Len  uint64
}

// Header is the decoded preamble of a GGUF file.
type Header struct {
	Version     uint32
	TensorCount uint64
	Metadata    map[string]any
}

// ErrBadMagic is returned when the file does not start with "GGUF".
var ErrBadMagic = errors.New("gguf: bad magic (not a GGUF file)")

// ErrTruncated is returned when the header ends prematurely.
var ErrTruncated = errors.New("gguf: truncated header")

type unsupportedVersionError struct{ version uint32 }

func (e unsupportedVersionError) Error() string {
	return fmt.Sprintf("gguf: unsupported version %d", e.version)
}

// IsUnsupportedVersion reports whether err was caused by an unknown GGUF version.
func IsUnsupportedVersion(err error) bool {
	var e unsupportedVersionError
	return errors.As(err, &e)
}

// ReadFile opens path and decodes its header.
func ReadFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadHeader(f)
}

// ReadHeader decodes a GGUF header from r. Versions 2 and 3 are supported.
func ReadHeader(r io.Reader) (*Header, error) {
	d := &decoder{r: bufio.NewReaderSize(r, 64*1024)}
	magic := d.u32()
	if d.err != nil {
		return nil, d.fail()
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	h := &Header{Version: d.u32()}
	if d.err != nil {
		return nil, d.fail()
	}
	if h.Version < 2 || h.Version > 3 {
		return nil, unsupportedVersionError{version: h.Version}
	}
	h.TensorCount = d.u64()
	kvCount := d.u64()
	if d.err != nil {
		return nil, d.fail()
	}
	if kvCount > maxKVCount {
		return nil, fmt.Errorf("gguf: metadata count %d exceeds limit", kvCount)
	}
	h.Metadata = make(map[string]any, kvCount)
	for i := uint64(0); i < kvCount; i++ {
		key := d.str()
		typ := ValueType(d.u32())
		if d.err != nil {
			return nil, d.fail()
		}
		v, err := d.value(typ)
		if err != nil {
			return nil, err
		}
		h.Metadata[key] = v
	}
	return h, nil
}

type decoder struct {
	r   *bufio.Reader
	err error
	buf [8]byte
}

func (d *decoder) fail() error {
	if errors.Is(d.err, io.EOF) || errors.Is(d.err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return d.err
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	_, d.err = io.ReadFull(d.r, d.buf[:n])
	return d.buf[:n]
}

func (d *decoder) u8() uint8   { return d.read(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }

func (d *decoder) str() string {
	n := d.u64()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("gguf: string length %d exceeds limit", n)
		return ""
	}
	b := make([]byte, n)
	_, d.err = io.ReadFull(d.r, b)
	return string(b)
}

func (d *decoder) skipStr() {
	n := d.u64()
	if d.err != nil {
		return
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("gguf: string length %d exceeds limit", n)
		return
	}
	_, d.err = d.r.Discard(int(n))
}

func (d *decoder) value(t ValueType) (any, error) {
	var v any
	switch t {
	case TypeUint8:
		v = d.u8()
	case TypeInt8:
		v = int8(d.u8())
	case TypeUint16:
		v = d.u16()
	case TypeInt16:
		v = int16(d.u16())
	case TypeUint32:
		v = d.u32()
	case TypeInt32:
		v = int32(d.u32())
	case TypeFloat32:
		v = math.Float32frombits(d.u32())
	case TypeBool:
		v = d.u8() != 0
	case TypeString:
		v = d.str()
	case TypeUint64:
		v = d.u64()
	case TypeInt64:
		v = int64(d.u64())
	case TypeFloat64:
		v = math.Float64frombits(d.u64())
	case TypeArray:
		arr := Array{Type: ValueType(d.u32()), Len: d.u64()}
		if d.err != nil {
			return nil, d.fail()
		}
		if arr.Len > maxArrayLen {
			return nil, fmt.Errorf("gguf: array length %d exceeds limit", arr.Len)
		}
		if err := d.skipArray(arr); err != nil {
			return nil, err
		}
		v = arr
	default:
		return nil, fmt.Errorf("gguf: unknown value type %d", t)
	}
	if d.err != nil {
		return nil, d.fail()
	}
	return v, nil
}

func (d *decoder) skipArray(arr Array) error {
	switch arr.Type {
	case TypeString:
		for i := uint64(0); i < arr.Len && d.err == nil; i++ {
			d.skipStr()
		}
	case TypeArray:
		// Nested arrays do not occur in model files produced by llama.cpp.
		return fmt.Errorf("gguf: nested arrays are not supported")
	default:
		size, ok := scalarSize(arr.Type)
		if !ok {
			return fmt.Errorf("gguf: unknown array element type %d", arr.Type)
		}
		total := arr.Len * uint64(size)
		for total > 0 && d.err == nil {
			chunk := total
			if chunk > math.MaxInt32 {
				chunk = math.MaxInt32
			}
			_, d.err = d.r.Discard(int(chunk))
			total -= chunk
		}
	}
	if d.err != nil {
		return d.fail()
	}
	return nil
}

func scalarSize(t ValueType) (int, bool) {
	switch t {
	case TypeUint8, TypeInt8, TypeBool:
		return 1, true
	case TypeUint16, TypeInt16:
		return 2, true
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4, true
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8, true
	}
	return 0, false
}
