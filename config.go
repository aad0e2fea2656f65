package cdtrans

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// DefaultPhoneLength is the number of HMM states assumed for phones not
// listed in the phone-length file.
const DefaultPhoneLength = 3

// Config collects every tunable of the pipeline, populated from the
// command line.
type Config struct {
	// Inputs.
	SamplesFile     string
	PhoneSyms       string
	PhoneSets       string
	CIStateList     string
	BoundaryContext string
	PhoneLength     string
	PhoneMap        string
	InitialPhones   string
	FinalPhones     string
	CountingFST     string

	// Cardinality.
	NumLeftContexts    int
	NumRightContexts   int
	TargetNumModels    int
	TargetNumStates    int
	MaxHyps            int
	StatePenaltyWeight float64
	MinSplitGain       float64
	MinSeenContexts    int
	MinObservations    float64
	VarianceFloor      float64
	NumThreads         int

	// Modes.
	UseComposition     bool
	ShiftedModels      bool
	DeterministicSplit bool
	IgnoreAbsentModels bool
	SplitCenterPhone   bool
	TransducerInit     string

	// Outputs.
	CTrans          string
	HMMList         string
	LeafModel       string
	LeafModelType   string
	HTrans          string
	HMMSymsOut      string
	StateSymsOut    string
	CDToPhoneMap    string
	CDToCIStateMap  string
	StateModelLog   string
	TransducerLog   string
	SaveSplits      string
	Replay          string
	DiagnosticsAddr string
}

// RegisterFlags binds every config field to fs.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.SamplesFile, "samples_file", "", "sample data file")
	fs.StringVar(&c.PhoneSyms, "phone_syms", "", "labels for context (output) symbols")
	fs.StringVar(&c.PhoneSets, "phone_sets", "", "context class definitions")
	fs.StringVar(&c.CIStateList, "ci_state_list", "", "list of context independent states")
	fs.StringVar(&c.BoundaryContext, "boundary_context", "sil", "context label to use at boundaries")
	fs.StringVar(&c.PhoneLength, "phone_length", "", "file containing the phone lengths")
	fs.StringVar(&c.PhoneMap, "phone_map", "", "mapping of phones with tied models")
	fs.StringVar(&c.InitialPhones, "initial_phones", "", "file containing word initial phones")
	fs.StringVar(&c.FinalPhones, "final_phones", "", "file containing word end phones")
	fs.StringVar(&c.CountingFST, "counting_transducer", "", "transducer used for counting states")

	fs.IntVar(&c.NumLeftContexts, "num_left_contexts", 1, "number of left context symbols")
	fs.IntVar(&c.NumRightContexts, "num_right_contexts", 1, "number of right context symbols")
	fs.IntVar(&c.TargetNumModels, "target_num_models", 0, "maximum number of HMM state models")
	fs.IntVar(&c.TargetNumStates, "target_num_states", 0, "maximum number of states")
	fs.IntVar(&c.MaxHyps, "max_hyps", 0, "maximum number of hypotheses evaluated")
	fs.Float64Var(&c.StatePenaltyWeight, "state_penalty_weight", 10.0, "weight of the state count penalty")
	fs.Float64Var(&c.MinSplitGain, "min_split_gain", 0.0, "minimum gain for a split")
	fs.IntVar(&c.MinSeenContexts, "min_seen_contexts", 0, "minimum number of seen contexts per model")
	fs.Float64Var(&c.MinObservations, "min_observations", 1000, "minimum number of observations per model")
	fs.Float64Var(&c.VarianceFloor, "variance_floor", 0.001, "variance floor for the scorer")
	fs.IntVar(&c.NumThreads, "num_threads", 1, "number of workers used for split calculations")

	fs.BoolVar(&c.UseComposition, "use_composition", false, "count states on the composed substrate")
	fs.BoolVar(&c.ShiftedModels, "shifted_models", false, "use the shifted model convention")
	fs.BoolVar(&c.DeterministicSplit, "determistic_split", true,
		"splitting of (un-shifted) counting transducers produces input deterministic arcs")
	fs.BoolVar(&c.IgnoreAbsentModels, "ignore_absent_models", false,
		"discard splits of models not present in the transducer")
	fs.BoolVar(&c.SplitCenterPhone, "split_center_phone", false, "split sets of center phones")
	fs.StringVar(&c.TransducerInit, "transducer_init", "basic", "type of transducer initialization")

	fs.StringVar(&c.CTrans, "Ctrans", "", "C transducer output file")
	fs.StringVar(&c.HMMList, "hmm_list", "", "HMM list output file")
	fs.StringVar(&c.LeafModel, "leaf_model", "", "state distribution model output file")
	fs.StringVar(&c.LeafModelType, "leaf_model_type", "text", "type of state model output file")
	fs.StringVar(&c.HTrans, "Htrans", "", "H transducer output file")
	fs.StringVar(&c.HMMSymsOut, "hmm_syms", "", "HMM symbol table output file")
	fs.StringVar(&c.StateSymsOut, "state_syms", "", "states symbol table output file")
	fs.StringVar(&c.CDToPhoneMap, "cd2phone_hmm_name_map", "", "name map from CD to phone HMMs")
	fs.StringVar(&c.CDToCIStateMap, "cd2ci_state_name_map", "", "state name map from CD to CI states")
	fs.StringVar(&c.StateModelLog, "state_model_log", "", "state model information output file")
	fs.StringVar(&c.TransducerLog, "transducer_log", "", "transducer state information output file")
	fs.StringVar(&c.SaveSplits, "save_splits", "", "record the sequence of applied splits")
	fs.StringVar(&c.Replay, "replay", "", "execute the splits from the given file")
	fs.StringVar(&c.DiagnosticsAddr, "diagnostics_addr", "", "serve diagnostic dumps on this address")
}

// Validate checks the mandatory inputs and the supported parameter
// ranges.
func (c *Config) Validate() error {
	for _, m := range []struct{ name, value string }{
		{"samples_file", c.SamplesFile},
		{"phone_syms", c.PhoneSyms},
		{"phone_sets", c.PhoneSets},
		{"ci_state_list", c.CIStateList},
		{"boundary_context", c.BoundaryContext},
	} {
		if m.value == "" {
			return fmt.Errorf("config: --%s is required", m.name)
		}
	}
	if c.NumLeftContexts < 1 {
		return fmt.Errorf("config: --num_left_contexts must be >= 1")
	}
	if c.NumRightContexts < 0 || c.NumRightContexts > 1 {
		return fmt.Errorf("config: right-context length %d is not supported", c.NumRightContexts)
	}
	if c.TransducerInit != "basic" {
		return fmt.Errorf("config: unknown transducer init mode %q", c.TransducerInit)
	}
	if c.UseComposition {
		return fmt.Errorf("config: --use_composition: %w", ErrUnsupportedSubstrate)
	}
	if c.ShiftedModels {
		return fmt.Errorf("config: --shifted_models: %w", ErrUnsupportedSubstrate)
	}
	if c.CountingFST != "" {
		return fmt.Errorf("config: --counting_transducer: %w", ErrUnsupportedSubstrate)
	}
	return nil
}

// ReadCIStateList parses a CI-phone list: one "<phone>_<state>" symbol
// per line; the extracted phones become context independent.
func ReadCIStateList(r io.Reader, syms *SymbolTable) (map[int]bool, error) {
	ci := make(map[int]bool)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cut := strings.LastIndexByte(line, '_')
		if cut <= 0 {
			return nil, fmt.Errorf("ci state list: line %d: expected \"<phone>_<state>\", got %q", lineNo, line)
		}
		phone, ok := syms.ID(line[:cut])
		if !ok {
			return nil, fmt.Errorf("ci state list: line %d: unknown phone %q", lineNo, line[:cut])
		}
		ci[phone] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ci state list: %w", err)
	}
	return ci, nil
}

// ReadPhoneLengths parses an optional "<phone> <num-states>" file.
// Zero-length phones are rejected.
func ReadPhoneLengths(r io.Reader, syms *SymbolTable) (map[int]int, error) {
	lengths := make(map[int]int)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("phone length file: line %d: expected \"phone length\", got %q", lineNo, line)
		}
		phone, ok := syms.ID(fields[0])
		if !ok {
			return nil, fmt.Errorf("phone length file: line %d: unknown phone %q", lineNo, fields[0])
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("phone length file: line %d: bad length %q: %w", lineNo, fields[1], err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("phone length file: line %d: phone %q has zero length", lineNo, fields[0])
		}
		lengths[phone] = n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phone length file: %w", err)
	}
	return lengths, nil
}

// ReadPhoneMap parses an optional "<from> <to>" tied-phone mapping.
func ReadPhoneMap(r io.Reader, syms *SymbolTable) (map[int]int, error) {
	mapping := make(map[int]int)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("phone map file: line %d: expected \"from to\", got %q", lineNo, line)
		}
		from, ok := syms.ID(fields[0])
		if !ok {
			return nil, fmt.Errorf("phone map file: line %d: unknown phone %q", lineNo, fields[0])
		}
		to, ok := syms.ID(fields[1])
		if !ok {
			return nil, fmt.Errorf("phone map file: line %d: unknown phone %q", lineNo, fields[1])
		}
		mapping[from] = to
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phone map file: %w", err)
	}
	return mapping, nil
}

// ReadPhoneList parses a one-symbol-per-line phone list (initial/final
// phones).
func ReadPhoneList(r io.Reader, syms *SymbolTable) ([]int, error) {
	var phones []int
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, ok := syms.ID(line)
		if !ok {
			return nil, fmt.Errorf("phone list: line %d: unknown phone %q", lineNo, line)
		}
		phones = append(phones, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phone list: %w", err)
	}
	return phones, nil
}

// BuildPhoneInfo assembles the phone metadata: every non-epsilon phone
// of syms with its length (from lengths, or DefaultPhoneLength), its
// CI-ness, and the tied center groups induced by phoneMap (every phone
// mapping to a common target shares one group with it).
func BuildPhoneInfo(syms *SymbolTable, ci map[int]bool, lengths map[int]int, phoneMap map[int]int) PhoneInfo {
	info := PhoneInfo{
		Universe:  syms.Len(),
		NumStates: make(map[int]int),
		CI:        ci,
	}
	if info.CI == nil {
		info.CI = make(map[int]bool)
	}
	for p := 1; p < syms.Len(); p++ {
		if n, ok := lengths[p]; ok {
			info.NumStates[p] = n
		} else {
			info.NumStates[p] = DefaultPhoneLength
		}
	}
	if len(phoneMap) > 0 {
		groups := make(map[int]ContextSet)
		for from, to := range phoneMap {
			g, ok := groups[to]
			if !ok {
				g = Singleton(syms.Len(), to)
				groups[to] = g
			}
			g.Add(from)
		}
		info.CenterTie = make(map[int]ContextSet)
		for _, g := range groups {
			for _, m := range g.Members() {
				info.CenterTie[m] = g
			}
		}
	}
	return info
}

// Units returns the distinct center-phone sets of info: one singleton
// per untied phone, one shared set per tied group.
func Units(info PhoneInfo) []ContextSet {
	var units []ContextSet
	seen := make(map[string]struct{})
	for p := 1; p < info.Universe; p++ {
		if _, ok := info.NumStates[p]; !ok {
			continue
		}
		u := info.centerSet(p)
		key := u.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		units = append(units, u)
	}
	return units
}
