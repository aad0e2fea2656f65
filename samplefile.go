package cdtrans

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SampleFileHeader describes the layout of a version-1 text sample file:
// feature dimension D, and the number of left/right context phones
// recorded per sample.
type SampleFileHeader struct {
	Version int
	Dim     int
	Left    int
	Right   int
}

// ReadSampleFile parses a version-1 text sample file into a SampleSet,
// resolving phone symbols through syms.
func ReadSampleFile(r io.Reader, syms *SymbolTable) (*SampleSet, SampleFileHeader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, SampleFileHeader{}, fmt.Errorf("sample file: missing header")
	}
	header, err := parseSampleHeader(scanner.Text())
	if err != nil {
		return nil, SampleFileHeader{}, err
	}

	set := NewSampleSet(header.Dim)
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sample, err := parseSampleLine(line, header, syms)
		if err != nil {
			return nil, SampleFileHeader{}, fmt.Errorf("sample file: line %d: %w", lineNo, err)
		}
		set.Add(sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, SampleFileHeader{}, fmt.Errorf("sample file: %w", err)
	}
	return set, header, nil
}

func parseSampleHeader(line string) (SampleFileHeader, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return SampleFileHeader{}, fmt.Errorf("sample file: header must be \"1 D L R\", got %q", line)
	}
	ints := make([]int, 4)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return SampleFileHeader{}, fmt.Errorf("sample file: header field %d: %w", i, err)
		}
		ints[i] = v
	}
	if ints[0] != 1 {
		return SampleFileHeader{}, fmt.Errorf("sample file: unsupported version %d", ints[0])
	}
	if ints[3] > 1 {
		return SampleFileHeader{}, fmt.Errorf("sample file: right-context length %d > 1 is not supported", ints[3])
	}
	return SampleFileHeader{Version: ints[0], Dim: ints[1], Left: ints[2], Right: ints[3]}, nil
}

func parseSampleLine(line string, h SampleFileHeader, syms *SymbolTable) (Sample, error) {
	fields := strings.Fields(line)
	want := 2 + h.Left + h.Right + 1 + 2*h.Dim
	if len(fields) != want {
		return Sample{}, fmt.Errorf("expected %d fields, got %d", want, len(fields))
	}

	i := 0
	center, err := resolvePhone(fields[i], syms)
	if err != nil {
		return Sample{}, err
	}
	i++

	state, err := strconv.Atoi(fields[i])
	if err != nil {
		return Sample{}, fmt.Errorf("bad hmm state %q: %w", fields[i], err)
	}
	i++

	left := make([]int, h.Left)
	for k := 0; k < h.Left; k++ {
		p, err := resolvePhone(fields[i], syms)
		if err != nil {
			return Sample{}, err
		}
		left[k] = p
		i++
	}

	right := make([]int, h.Right)
	for k := 0; k < h.Right; k++ {
		p, err := resolvePhone(fields[i], syms)
		if err != nil {
			return Sample{}, err
		}
		right[k] = p
		i++
	}

	weight, err := strconv.ParseFloat(fields[i], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("bad weight %q: %w", fields[i], err)
	}
	i++

	sum := make([]float64, h.Dim)
	for d := 0; d < h.Dim; d++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad sum[%d] %q: %w", d, fields[i], err)
		}
		sum[d] = v
		i++
	}

	sumSq := make([]float64, h.Dim)
	for d := 0; d < h.Dim; d++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad sum2[%d] %q: %w", d, fields[i], err)
		}
		sumSq[d] = v
		i++
	}

	stats := NewStatistics(h.Dim)
	stats.AddRaw(weight, sum, sumSq)

	return Sample{
		CenterPhone: center,
		HMMState:    state,
		Left:        left,
		Right:       right,
		Stats:       stats,
	}, nil
}

func resolvePhone(tok string, syms *SymbolTable) (int, error) {
	id, ok := syms.ID(tok)
	if !ok {
		return 0, fmt.Errorf("unknown phone %q", tok)
	}
	return id, nil
}
