package cdtrans

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return &cfg, cfg.Validate()
}

var mandatoryArgs = []string{
	"--samples_file=s.txt",
	"--phone_syms=p.txt",
	"--phone_sets=q.txt",
	"--ci_state_list=ci.txt",
	"--boundary_context=sil",
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(t, mandatoryArgs...)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.NumLeftContexts)
	require.Equal(t, 1, cfg.NumRightContexts)
	require.Equal(t, 10.0, cfg.StatePenaltyWeight)
	require.Equal(t, 1000.0, cfg.MinObservations)
	require.Equal(t, 0.001, cfg.VarianceFloor)
	require.True(t, cfg.DeterministicSplit)
	require.Equal(t, "basic", cfg.TransducerInit)
}

func TestConfigMissingMandatory(t *testing.T) {
	_, err := parseConfig(t, "--samples_file=s.txt")
	require.Error(t, err)
}

func TestConfigRejectsWideRightContext(t *testing.T) {
	args := append([]string{"--num_right_contexts=2"}, mandatoryArgs...)
	_, err := parseConfig(t, args...)
	require.Error(t, err)
}

func TestConfigRejectsUnknownInitMode(t *testing.T) {
	args := append([]string{"--transducer_init=word-boundary"}, mandatoryArgs...)
	_, err := parseConfig(t, args...)
	require.Error(t, err)
}

func TestConfigRejectsUnsupportedSubstrates(t *testing.T) {
	args := append([]string{"--use_composition"}, mandatoryArgs...)
	_, err := parseConfig(t, args...)
	require.ErrorIs(t, err, ErrUnsupportedSubstrate)

	args = append([]string{"--shifted_models"}, mandatoryArgs...)
	_, err = parseConfig(t, args...)
	require.ErrorIs(t, err, ErrUnsupportedSubstrate)
}

func TestReadCIStateList(t *testing.T) {
	syms := fourPhoneSyms()
	ci, err := ReadCIStateList(strings.NewReader("sil_1\n"), syms)
	require.NoError(t, err)
	require.Equal(t, map[int]bool{phSil: true}, ci)

	_, err = ReadCIStateList(strings.NewReader("nosuchphone_1\n"), syms)
	require.Error(t, err)

	_, err = ReadCIStateList(strings.NewReader("garbage\n"), syms)
	require.Error(t, err)
}

func TestReadPhoneLengths(t *testing.T) {
	syms := fourPhoneSyms()
	lengths, err := ReadPhoneLengths(strings.NewReader("sil 1\na 3\n"), syms)
	require.NoError(t, err)
	require.Equal(t, map[int]int{phSil: 1, phA: 3}, lengths)

	// A zero-length phone is rejected, not warned about.
	_, err = ReadPhoneLengths(strings.NewReader("a 0\n"), syms)
	require.Error(t, err)
}

func TestReadPhoneMapAndUnits(t *testing.T) {
	syms := fourPhoneSyms()
	mapping, err := ReadPhoneMap(strings.NewReader("b a\n"), syms)
	require.NoError(t, err)
	require.Equal(t, map[int]int{phB: phA}, mapping)

	info := BuildPhoneInfo(syms, map[int]bool{phSil: true}, map[int]int{phSil: 1}, mapping)
	require.Equal(t, 1, info.NumStates[phSil])
	require.Equal(t, DefaultPhoneLength, info.NumStates[phA])

	// a and b share one tied center group.
	require.True(t, info.centerSet(phA).Equal(info.centerSet(phB)))
	require.Equal(t, 2, info.centerSet(phA).Cardinality())

	// Units: sil alone plus the {a,b} group.
	units := Units(info)
	require.Len(t, units, 2)
}

func TestReadPhoneList(t *testing.T) {
	syms := fourPhoneSyms()
	phones, err := ReadPhoneList(strings.NewReader("sil\na\n"), syms)
	require.NoError(t, err)
	require.Equal(t, []int{phSil, phA}, phones)

	_, err = ReadPhoneList(strings.NewReader("zz\n"), syms)
	require.Error(t, err)
}
