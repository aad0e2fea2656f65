package cdtrans

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildPhoneSyms(t *testing.T) *SymbolTable {
	t.Helper()
	syms, err := ReadPhoneSymbolTable(strings.NewReader("<eps> 0\nsil 1\na 2\nb 3\n"))
	require.NoError(t, err)
	return syms
}

func TestReadSampleFileBasic(t *testing.T) {
	syms := buildPhoneSyms(t)
	data := "1 1 1 1\n" +
		"a 0 sil b 1000 0 0\n" +
		"a 0 b sil 500 1000 2000\n"

	set, header, err := ReadSampleFile(strings.NewReader(data), syms)
	require.NoError(t, err)
	require.Equal(t, SampleFileHeader{Version: 1, Dim: 1, Left: 1, Right: 1}, header)

	samples := set.For(phA, 0)
	require.Len(t, samples, 2)
	require.Equal(t, phSil, samples[0].LeftAt(1))
	require.Equal(t, phB, samples[0].RightAt(1))
	require.Equal(t, 1000.0, samples[0].Stats.Weight)
}

func TestReadSampleFileRejectsBadHeader(t *testing.T) {
	syms := buildPhoneSyms(t)
	_, _, err := ReadSampleFile(strings.NewReader("1 1 1 2\n"), syms)
	require.Error(t, err)
}

func TestReadSampleFileRejectsUnknownVersion(t *testing.T) {
	syms := buildPhoneSyms(t)
	_, _, err := ReadSampleFile(strings.NewReader("2 1 0 0\n"), syms)
	require.Error(t, err)
}

func TestReadSampleFileRejectsMalformedLine(t *testing.T) {
	syms := buildPhoneSyms(t)
	data := "1 1 0 0\n" +
		"a 0 1000 0\n" // missing one field for Dim=1 sumSq
	_, _, err := ReadSampleFile(strings.NewReader(data), syms)
	require.Error(t, err)
}

func TestReadSampleFileRejectsUnknownPhone(t *testing.T) {
	syms := buildPhoneSyms(t)
	data := "1 1 0 0\n" +
		"xyz 0 1000 0 0\n"
	_, _, err := ReadSampleFile(strings.NewReader(data), syms)
	require.Error(t, err)
}
