package excitation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// gaussianPulse builds an excitation-like curve on a constant baseline
func gaussianPulse(bins int, center, width, height, base float64) []float64 {
	values := make([]float64, bins)
	for i := range values {
		d := (float64(i) - center) / width
		values[i] = base + height*math.Exp(-0.5*d*d)
	}
	return values
}

// TestScaledValues verifies that scaling multiplies every sample by the pixel count
func TestScaledValues(t *testing.T) {
	values := []float64{0.5, 1.25, 3, 0, 7.75}
	c := NewCurve("test", values, 0.1)

	one := c.ScaledValues(1)
	for i := range values {
		if one[i] != values[i] {
			t.Errorf("ScaledValues(1)[%d] = %g, want exactly %g", i, one[i], values[i])
		}
	}

	for _, p := range []int{2, 7, 49, 1000} {
		scaled := c.ScaledValues(p)
		for i := range values {
			want := values[i] * float64(p)
			if math.Abs(scaled[i]-want) > 1e-12*math.Max(1, want) {
				t.Errorf("ScaledValues(%d)[%d] = %g, want %g", p, i, scaled[i], want)
			}
		}
	}

	// The stored curve must not be touched by scaling
	scaled := c.ScaledValues(3)
	scaled[0] = -1
	if c.Values()[0] != values[0] {
		t.Error("ScaledValues exposed the stored curve")
	}
}

// TestNewCurveCopies verifies that the curve does not alias the caller's slice
func TestNewCurveCopies(t *testing.T) {
	values := []float64{1, 2, 3}
	c := NewCurve("x", values, 1)
	values[0] = 100
	if c.Values()[0] != 1 {
		t.Errorf("curve aliases its input, got %g", c.Values()[0])
	}
	if c.Start != 0 || c.Stop != 3 {
		t.Errorf("default cursors = [%d, %d), want [0, 3)", c.Start, c.Stop)
	}
}

// TestPrompt verifies baseline subtraction, cursor windowing and scaling
func TestPrompt(t *testing.T) {
	c := NewCurve("p", []float64{2, 3, 10, 6, 1, 2}, 0.1)
	c.ApplyCursors(Cursors{ExcitationStart: 1, ExcitationStop: 5, ExcitationBase: 2})

	got := c.Prompt(2)
	want := []float64{0, 2, 16, 8, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Prompt(2)[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

// TestTextRoundTrip writes a curve as text and loads it back
func TestTextRoundTrip(t *testing.T) {
	dir := t.TempDir()
	values := []float64{0, 1.5, 1e-7, 12345.678, 3.0000001, 0.25}

	saved, err := Save(filepath.Join(dir, "prompt.irf"), values, 0.05)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(saved.Name)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if bytes.HasSuffix(raw, []byte("\n")) {
		t.Error("text excitation should not end with a newline")
	}
	if lines := strings.Count(string(raw), "\n") + 1; lines != len(values) {
		t.Errorf("expected %d lines, got %d", len(values), lines)
	}

	loaded, err := Load(saved.Name, 0.05)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := loaded.Values()
	if len(got) != len(values) {
		t.Fatalf("loaded %d values, want %d", len(got), len(values))
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("value %d: got %g, want %g", i, got[i], values[i])
		}
	}
}

// TestDefaultExtension verifies that names without an extension become .irf text files
func TestDefaultExtension(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "response")

	saved, err := Save(base, []float64{1, 2, 3}, 1)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Name != base+".irf" {
		t.Errorf("saved as %q, want %q", saved.Name, base+".irf")
	}
	if _, err := os.Stat(base + ".irf"); err != nil {
		t.Errorf("expected .irf file on disk: %v", err)
	}

	loaded, err := Load(base, 1)
	if err != nil {
		t.Fatalf("Load without extension failed: %v", err)
	}
	if loaded.Bins() != 3 {
		t.Errorf("loaded %d bins, want 3", loaded.Bins())
	}
}

// TestLoadErrors verifies that missing and malformed files produce no curve
func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.irf"), 1); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.irf")
	if err := os.WriteFile(bad, []byte("1.0\nnot-a-number\n3.0"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(bad, 1)
	if err == nil {
		t.Fatal("expected error for malformed text")
	}
	if !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}

	empty := filepath.Join(dir, "empty.irf")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty, 1); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for empty file, got %v", err)
	}
}

// TestICSRoundTrip writes a version 2 ICS file and reads it back
func TestICSRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irf.ics")
	values := gaussianPulse(32, 8, 1.5, 500, 3)

	if _, err := Save(path, values, 0.2); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path, 0.2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := loaded.Values()
	if len(got) != len(values) {
		t.Fatalf("loaded %d values, want %d", len(got), len(values))
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("value %d: got %g, want %g", i, got[i], values[i])
		}
	}
}

// TestICSBigEndianFloat32 reads a hand written 32-bit big endian file with
// the lifetime axis after two spatial axes
func TestICSBigEndianFloat32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "be.ics")

	var buf bytes.Buffer
	buf.WriteString("\t\n")
	buf.WriteString("ics_version\t2.0\n")
	buf.WriteString("layout\torder\tbits\tx\ty\tmicrotime\n")
	buf.WriteString("layout\tsizes\t32\t2\t1\t4\n")
	buf.WriteString("representation\tformat\treal\n")
	buf.WriteString("representation\tbyte_order\t4\t3\t2\t1\n")
	buf.WriteString("end\n")

	// x varies fastest: (x0,t0) (x1,t0) (x0,t1) ...
	samples := []float32{1, 99, 2.5, 99, 4, 99, 8.25, 99}
	for _, s := range samples {
		if err := binary.Write(&buf, binary.BigEndian, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, 1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []float64{1, 2.5, 4, 8.25}
	got := c.Values()
	if len(got) != len(want) {
		t.Fatalf("got %d bins, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bin %d: got %g, want %g", i, got[i], want[i])
		}
	}
}

// TestICSUnsupportedDepth verifies that integer data is rejected as a format error
func TestICSUnsupportedDepth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "int.ics")
	header := "\t\nics_version\t2.0\nlayout\torder\tbits\tlifetime\nlayout\tsizes\t16\t4\nend\n"
	data := append([]byte(header), make([]byte, 8)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, 1); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
}

// TestFITSRoundTrip writes a FITS cube and reads it back
func TestFITSRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irf.fits")
	values := gaussianPulse(24, 6, 1, 200, 1)

	if _, err := Save(path, values, 0.1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path, 0.1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := loaded.Values()
	if len(got) != len(values) {
		t.Fatalf("loaded %d values, want %d", len(got), len(values))
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("value %d: got %g, want %g", i, got[i], values[i])
		}
	}
}

func checkWindow(t *testing.T, name string, start, stop, bins int) {
	t.Helper()
	if start < 0 || start >= stop || stop > bins {
		t.Errorf("%s window [%d, %d) violates 0 <= start < stop <= %d", name, start, stop, bins)
	}
}

// TestEstimateCursors checks the heuristic on a realistic pulse and decay
func TestEstimateCursors(t *testing.T) {
	const bins = 64
	const timeInc = 0.15625
	exc := gaussianPulse(bins, 10, 1.5, 1000, 5)

	decay := make([]float64, bins)
	for i := 10; i < bins; i++ {
		decay[i] = 500 * math.Exp(-float64(i-10)*timeInc/2.5)
	}

	c, err := EstimateCursors(timeInc, exc, decay)
	if err != nil {
		t.Fatalf("EstimateCursors failed: %v", err)
	}
	checkWindow(t, "excitation", c.ExcitationStart, c.ExcitationStop, bins)
	checkWindow(t, "decay", c.DecayStart, c.DecayStop, bins)

	if c.ExcitationStart > 10 || c.ExcitationStop <= 10 {
		t.Errorf("excitation window [%d, %d) should contain the peak at 10",
			c.ExcitationStart, c.ExcitationStop)
	}
	if math.Abs(c.ExcitationBase-5) > 1e-6 {
		t.Errorf("baseline = %g, want 5", c.ExcitationBase)
	}
}

// TestEstimateCursorsEdgeCases verifies the window invariant on degenerate curves
func TestEstimateCursorsEdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		excitation []float64
		decay      []float64
	}{
		{"single bin", []float64{1}, []float64{1}},
		{"flat", []float64{2, 2, 2, 2, 2}, []float64{0, 0, 0, 0, 0}},
		{"peak at end", []float64{0, 0, 0, 0, 9}, []float64{0, 0, 0, 0, 3}},
		{"peak at start", []float64{9, 1, 0, 0, 0, 0}, []float64{5, 4, 3, 2, 1, 0}},
		{"all zero", make([]float64, 10), make([]float64, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := EstimateCursors(0.1, tt.excitation, tt.decay)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			checkWindow(t, "excitation", c.ExcitationStart, c.ExcitationStop, len(tt.excitation))
			checkWindow(t, "decay", c.DecayStart, c.DecayStop, len(tt.decay))

			start, stop, err := EstimateDecayCursors(0.1, tt.decay)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			checkWindow(t, "decay only", start, stop, len(tt.decay))
		})
	}

	if _, err := EstimateCursors(0.1, nil, nil); err == nil {
		t.Error("expected error for empty excitation")
	}
	if _, err := EstimateCursors(0.1, []float64{1, 2}, []float64{1}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

// TestFromDecay verifies that an excitation built from a decay gets cursors
func TestFromDecay(t *testing.T) {
	decay := gaussianPulse(40, 12, 1, 300, 0)
	c, err := FromDecay("estimated", decay, 0.1)
	if err != nil {
		t.Fatalf("FromDecay failed: %v", err)
	}
	checkWindow(t, "excitation", c.Start, c.Stop, 40)
	if c.Start > 12 || c.Stop <= 12 {
		t.Errorf("cursors [%d, %d) should contain the peak at 12", c.Start, c.Stop)
	}
}
