// Package safetensors reads and writes the .safetensors tensor container:
// an 8-byte little-endian header length, a JSON header, then raw tensor data.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

const (
	dtypeF32  = "F32"
	dtypeF16  = "F16"
	dtypeBF16 = "BF16"
)

// Tensor holds a single tensor decoded to float32.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

type Store struct {
	raw     []byte
	entries map[string]storeEntry
	names   []string
}

type storeEntry struct {
	DType string
	Shape []int64
	Start int
	End   int
}

type storeHeaderEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

func OpenStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	return OpenStoreFromBytes(data)
}

func OpenStoreFromBytes(data []byte) (*Store, error) {
	headerEnd, header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]storeEntry, len(header))
	names := make([]string, 0, len(header))

	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}

		var entry storeHeaderEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
		}

		if err := validateHeaderEntry(name, entry); err != nil {
			return nil, err
		}

		start := headerEnd + entry.Offsets[0]
		end := headerEnd + entry.Offsets[1]
		if end > len(data) {
			return nil, fmt.Errorf("safetensors: tensor %q data [%d:%d] exceeds file size %d", name, start, end, len(data))
		}

		elemCount, err := shapeElementCount(entry.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		dtype := strings.ToUpper(entry.DType)
		if need := int(elemCount) * dtypeBytes(dtype); end-start < need {
			return nil, fmt.Errorf("safetensors: tensor %q needs %d bytes but data has %d", name, need, end-start)
		}

		entries[name] = storeEntry{
			DType: dtype,
			Shape: append([]int64(nil), entry.Shape...),
			Start: start,
			End:   end,
		}
		names = append(names, name)
	}

	if len(entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	sort.Strings(names)

	return &Store{raw: data, entries: entries, names: names}, nil
}

// Names returns the tensor names in sorted order.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Shape reports a tensor's shape without decoding its data.
func (s *Store) Shape(name string) ([]int64, bool) {
	entry, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return append([]int64(nil), entry.Shape...), true
}

func (s *Store) Tensor(name string) (*Tensor, error) {
	entry, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, summarizeNames(s.names))
	}

	data, err := decodeTensorData(s.raw[entry.Start:entry.End], entry.DType, entry.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q decode: %w", name, err)
	}

	return &Tensor{
		Name:  name,
		Shape: append([]int64(nil), entry.Shape...),
		Data:  data,
	}, nil
}

func (s *Store) Close() {
	s.raw = nil
	s.entries = nil
	s.names = nil
}

func decodeHeader(data []byte) (int, map[string]json.RawMessage, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return 0, nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", headerLen, len(data))
	}

	headerEnd := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return 0, nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	return headerEnd, header, nil
}

func validateHeaderEntry(name string, entry storeHeaderEntry) error {
	if dtypeBytes(strings.ToUpper(entry.DType)) == 0 {
		return fmt.Errorf("safetensors: tensor %q has unsupported dtype %q", name, entry.DType)
	}

	if entry.Offsets[0] < 0 || entry.Offsets[1] < entry.Offsets[0] {
		return fmt.Errorf("safetensors: tensor %q has invalid data offsets %v", name, entry.Offsets)
	}

	for _, d := range entry.Shape {
		if d < 0 {
			return fmt.Errorf("safetensors: tensor %q has negative shape dimension in %v", name, entry.Shape)
		}
	}

	return nil
}

func shapeElementCount(shape []int64) (int64, error) {
	total := int64(1)

	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}

		if d == 0 {
			return 0, nil
		}

		if total > math.MaxInt64/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}

		total *= d
	}

	return total, nil
}

// dtypeBytes returns the element width of a supported dtype, or 0.
func dtypeBytes(dtype string) int {
	switch dtype {
	case dtypeF32:
		return 4
	case dtypeF16, dtypeBF16:
		return 2
	default:
		return 0
	}
}

func decodeTensorData(raw []byte, dtype string, shape []int64) ([]float32, error) {
	elemCount, err := shapeElementCount(shape)
	if err != nil {
		return nil, err
	}

	out := make([]float32, int(elemCount))

	switch dtype {
	case dtypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case dtypeF16:
		for i := range out {
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case dtypeBF16:
		for i := range out {
			bits := binary.LittleEndian.Uint16(raw[i*2:])
			out[i] = math.Float32frombits(uint32(bits) << 16)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}

	return out, nil
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x03ff)

	var bits uint32

	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			// Subnormal: normalize.
			e := int32(-14)

			for (frac & 0x0400) == 0 {
				frac <<= 1
				e--
			}

			frac &= 0x03ff
			exp32 := uint32(e + 127)
			bits = (sign << 31) | (exp32 << 23) | (frac << 13)
		}
	case 0x1f:
		// Inf / NaN.
		bits = (sign << 31) | 0x7f800000 | (frac << 13)
	default:
		exp32 := exp + (127 - 15)
		bits = (sign << 31) | (exp32 << 23) | (frac << 13)
	}

	return math.Float32frombits(bits)
}

func summarizeNames(names []string) string {
	const maxNames = 8
	if len(names) <= maxNames {
		return strings.Join(names, ", ")
	}

	return strings.Join(names[:maxNames], ", ") + ", ..."
}
