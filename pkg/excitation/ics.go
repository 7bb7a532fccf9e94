package excitation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// icsHeader is the subset of an Image Cytometry Standard header needed to
// pull a single lifetime curve out of the data block.
type icsHeader struct {
	version   string
	order     []string
	sizes     []int
	bits      int
	format    string
	byteOrder []int
}

// lifetimeAxes are the axis names that carry the time bins.
var lifetimeAxes = []string{"lifetime", "microtime", "tau", "tcspc"}

// loadICS reads one sample per bin along the lifetime axis. Version 2 files
// carry the data after the header, version 1 files keep it in a sibling
// ".ids" file.
func loadICS(path string) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hdr, dataStart, err := parseICSHeader(raw)
	if err != nil {
		return nil, err
	}

	data := raw[dataStart:]
	if !strings.HasPrefix(hdr.version, "2") {
		ids := strings.TrimSuffix(path, filepath.Ext(path)) + ".ids"
		data, err = os.ReadFile(ids)
		if err != nil {
			return nil, err
		}
	}
	return hdr.lifetimeCurve(data)
}

func parseICSHeader(raw []byte) (*icsHeader, int, error) {
	if len(raw) < 2 {
		return nil, 0, errors.Wrap(ErrFormat, "ics header too short")
	}
	fieldSep := string(raw[0])
	lineSep := raw[1]

	hdr := &icsHeader{version: "1.0"}
	pos := 2
	if pos < len(raw) && raw[pos] == lineSep {
		pos++
	}
	for pos < len(raw) {
		end := bytes.IndexByte(raw[pos:], lineSep)
		var line string
		if end < 0 {
			line = string(raw[pos:])
			pos = len(raw)
		} else {
			line = string(raw[pos : pos+end])
			pos += end + 1
		}
		fields := strings.Split(strings.TrimRight(line, "\r"), fieldSep)
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(fields[0]))
		if key == "end" {
			if err := hdr.check(); err != nil {
				return nil, 0, err
			}
			return hdr, pos, nil
		}
		if err := hdr.apply(key, fields[1:]); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, errors.Wrap(ErrFormat, "ics header has no end marker")
}

func (h *icsHeader) apply(key string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	sub := strings.ToLower(strings.TrimSpace(fields[0]))
	rest := fields[1:]
	switch {
	case key == "ics_version":
		h.version = strings.TrimSpace(fields[0])
	case key == "layout" && sub == "order":
		h.order = nil
		for _, f := range rest {
			h.order = append(h.order, strings.ToLower(strings.TrimSpace(f)))
		}
	case key == "layout" && sub == "sizes":
		sizes, err := parseInts(rest)
		if err != nil {
			return err
		}
		h.sizes = sizes
	case key == "layout" && sub == "significant_bits":
		bits, err := parseInts(rest)
		if err != nil {
			return err
		}
		if len(bits) > 0 && h.bits == 0 {
			h.bits = bits[0]
		}
	case key == "representation" && sub == "format":
		if len(rest) > 0 {
			h.format = strings.ToLower(strings.TrimSpace(rest[0]))
		}
	case key == "representation" && sub == "byte_order":
		order, err := parseInts(rest)
		if err != nil {
			return err
		}
		h.byteOrder = order
	}
	return nil
}

func parseInts(fields []string) ([]int, error) {
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "bad integer %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

func (h *icsHeader) check() error {
	if len(h.order) == 0 || len(h.order) != len(h.sizes) {
		return errors.Wrap(ErrFormat, "ics layout order and sizes disagree")
	}
	// the "bits" pseudo axis carries the sample width
	if h.order[0] == "bits" {
		h.bits = h.sizes[0]
		h.order = h.order[1:]
		h.sizes = h.sizes[1:]
	}
	if h.bits != 32 && h.bits != 64 {
		return errors.Wrapf(ErrFormat, "unsupported bit depth %d", h.bits)
	}
	if h.format != "" && h.format != "real" && h.format != "float" {
		return errors.Wrapf(ErrFormat, "unsupported sample format %q", h.format)
	}
	return nil
}

func (h *icsHeader) littleEndian() bool {
	// "1 2 3 4" lists the least significant byte first
	return len(h.byteOrder) < 2 || h.byteOrder[0] < h.byteOrder[1]
}

// lifetimeAxis finds the axis that holds the time bins. Without a named
// lifetime axis the single axis longer than one sample is used.
func (h *icsHeader) lifetimeAxis() (int, error) {
	for i, name := range h.order {
		for _, lt := range lifetimeAxes {
			if name == lt {
				return i, nil
			}
		}
	}
	axis := -1
	for i, size := range h.sizes {
		if size > 1 {
			if axis >= 0 {
				return 0, errors.Wrap(ErrFormat, "ics file has no lifetime axis")
			}
			axis = i
		}
	}
	if axis < 0 {
		return 0, errors.Wrap(ErrFormat, "ics file has no lifetime axis")
	}
	return axis, nil
}

// lifetimeCurve decodes the samples along the lifetime axis at the origin
// of every other axis.
func (h *icsHeader) lifetimeCurve(data []byte) ([]float64, error) {
	axis, err := h.lifetimeAxis()
	if err != nil {
		return nil, err
	}
	stride := 1
	for _, size := range h.sizes[:axis] {
		stride *= size
	}
	bins := h.sizes[axis]
	width := h.bits / 8

	var order binary.ByteOrder = binary.BigEndian
	if h.littleEndian() {
		order = binary.LittleEndian
	}

	values := make([]float64, bins)
	for bin := 0; bin < bins; bin++ {
		off := bin * stride * width
		if off+width > len(data) {
			return nil, errors.Wrapf(ErrFormat, "ics data truncated at bin %d", bin)
		}
		values[bin] = decodeSample(order, h.bits, data[off:off+width])
	}
	return values, nil
}

func decodeSample(order binary.ByteOrder, bits int, b []byte) float64 {
	if bits == 32 {
		return float64(math.Float32frombits(order.Uint32(b)))
	}
	return math.Float64frombits(order.Uint64(b))
}

// saveICS writes a version 2 single-file ICS with one 64-bit little endian
// sample per lifetime bin.
func saveICS(path string, values []float64, timeInc float64) error {
	var buf bytes.Buffer
	buf.WriteString("\t\n")
	fmt.Fprintf(&buf, "ics_version\t2.0\n")
	fmt.Fprintf(&buf, "filename\t%s\n", strings.TrimSuffix(path, extICS))
	fmt.Fprintf(&buf, "layout\tparameters\t4\n")
	fmt.Fprintf(&buf, "layout\torder\tbits\tx\ty\tlifetime\n")
	fmt.Fprintf(&buf, "layout\tsizes\t64\t1\t1\t%d\n", len(values))
	fmt.Fprintf(&buf, "layout\tcoordinates\tvideo\n")
	fmt.Fprintf(&buf, "layout\tsignificant_bits\t64\n")
	fmt.Fprintf(&buf, "representation\tformat\treal\n")
	fmt.Fprintf(&buf, "representation\tsign\tsigned\n")
	fmt.Fprintf(&buf, "representation\tcompression\tuncompressed\n")
	fmt.Fprintf(&buf, "representation\tbyte_order\t1\t2\t3\t4\t5\t6\t7\t8\n")
	fmt.Fprintf(&buf, "parameter\tscale\t1.0\t1.0\t1.0\t%g\n", timeInc)
	fmt.Fprintf(&buf, "parameter\tunits\tbits\tmicrons\tmicrons\tns\n")
	buf.WriteString("end\n")

	sample := make([]byte, 8)
	for _, v := range values {
		binary.LittleEndian.PutUint64(sample, math.Float64bits(v))
		buf.Write(sample)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
