package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/stealthrocket/cdtrans"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type program struct {
	cfg cdtrans.Config
	log *zap.Logger

	syms      *cdtrans.SymbolTable
	samples   *cdtrans.SampleSet
	info      cdtrans.PhoneInfo
	questions *cdtrans.QuestionSets
	inventory *cdtrans.Inventory
	trans     *cdtrans.Transducer
	hmm       *cdtrans.HMMCompiler
}

func run(args []string) error {
	var prog program
	fs := pflag.NewFlagSet("cdtrans-build", pflag.ContinueOnError)
	prog.cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := prog.cfg.Validate(); err != nil {
		return err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	prog.log = logger

	if err := prog.loadInputs(); err != nil {
		return err
	}
	if err := prog.build(); err != nil {
		return err
	}
	if err := prog.split(); err != nil {
		return err
	}
	return prog.writeOutputs()
}

func withFile(path string, f func(io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return f(file)
}

func createFile(path string, f func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f(file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

func (prog *program) loadInputs() error {
	cfg := &prog.cfg

	err := withFile(cfg.PhoneSyms, func(r io.Reader) error {
		var err error
		prog.syms, err = cdtrans.ReadPhoneSymbolTable(r)
		return err
	})
	if err != nil {
		return err
	}

	err = withFile(cfg.SamplesFile, func(r io.Reader) error {
		set, header, err := cdtrans.ReadSampleFile(r, prog.syms)
		if err != nil {
			return err
		}
		if header.Left < cfg.NumLeftContexts || header.Right < cfg.NumRightContexts {
			return fmt.Errorf("sample file records %d/%d contexts, need %d/%d",
				header.Left, header.Right, cfg.NumLeftContexts, cfg.NumRightContexts)
		}
		prog.samples = set
		return nil
	})
	if err != nil {
		return err
	}

	var ci map[int]bool
	err = withFile(cfg.CIStateList, func(r io.Reader) error {
		var err error
		ci, err = cdtrans.ReadCIStateList(r, prog.syms)
		return err
	})
	if err != nil {
		return err
	}

	lengths := map[int]int{}
	if cfg.PhoneLength != "" {
		err = withFile(cfg.PhoneLength, func(r io.Reader) error {
			var err error
			lengths, err = cdtrans.ReadPhoneLengths(r, prog.syms)
			return err
		})
		if err != nil {
			return err
		}
	}

	var phoneMap map[int]int
	if cfg.PhoneMap != "" {
		err = withFile(cfg.PhoneMap, func(r io.Reader) error {
			var err error
			phoneMap, err = cdtrans.ReadPhoneMap(r, prog.syms)
			return err
		})
		if err != nil {
			return err
		}
	}
	prog.info = cdtrans.BuildPhoneInfo(prog.syms, ci, lengths, phoneMap)

	prog.questions = cdtrans.NewQuestionSets(cfg.NumLeftContexts, cfg.NumRightContexts)
	err = withFile(cfg.PhoneSets, func(r io.Reader) error {
		questions, err := cdtrans.ReadQuestionFile(r, prog.syms)
		if err != nil {
			return err
		}
		prog.questions.AddAll(questions)
		return nil
	})
	if err != nil {
		return err
	}

	// Word-boundary phone lists are validated up front; they only come
	// into play with initialization modes beyond "basic".
	for _, path := range []string{cfg.InitialPhones, cfg.FinalPhones} {
		if path == "" {
			continue
		}
		err = withFile(path, func(r io.Reader) error {
			_, err := cdtrans.ReadPhoneList(r, prog.syms)
			return err
		})
		if err != nil {
			return err
		}
	}

	if _, ok := prog.syms.ID(cfg.BoundaryContext); !ok {
		return fmt.Errorf("boundary phone %q not in phone symbol table", cfg.BoundaryContext)
	}
	return nil
}

func (prog *program) build() error {
	cfg := &prog.cfg
	prog.inventory = cdtrans.NewInventory(prog.syms.Len(), cfg.NumLeftContexts, cfg.NumRightContexts,
		prog.samples, cdtrans.NewScorer(cfg.VarianceFloor))
	monophones, err := prog.inventory.InitMonophones(prog.info)
	if err != nil {
		return err
	}
	prog.trans = cdtrans.NewTransducer()
	cdtrans.InitTransducer(prog.trans, prog.syms.Len(), cfg.NumLeftContexts,
		monophones, cdtrans.Units(prog.info))
	prog.log.Info("initialized",
		zap.Int("num_models", prog.inventory.NumStateModels()),
		zap.Int("num_states", prog.trans.NumStates()))
	return nil
}

func (prog *program) split() error {
	cfg := &prog.cfg
	if !cfg.DeterministicSplit {
		// Only the lexicon counting substrates split non-deterministically;
		// the constructional transducer always merges equal contexts.
		prog.log.Info("ignoring --determistic_split=false for the constructional transducer")
	}
	centerGroups := prog.info.CenterTie != nil
	splitter := &cdtrans.Splitter{CenterIsGroup: centerGroups}
	predictor := cdtrans.NewPredictor(prog.trans, centerGroups)
	gen := &cdtrans.SplitGenerator{
		Inventory:       prog.inventory,
		Questions:       prog.questions,
		MinGain:         cfg.MinSplitGain,
		MinObservations: cfg.MinObservations,
		MinContexts:     cfg.MinSeenContexts,
		SplitCenter:     cfg.SplitCenterPhone,
		Workers:         cfg.NumThreads,
	}
	driver := cdtrans.NewDriver(prog.inventory, prog.trans, splitter, predictor, gen, prog.info,
		cdtrans.DriverOptions{
			StatePenaltyWeight: cfg.StatePenaltyWeight,
			TargetNumModels:    cfg.TargetNumModels,
			TargetNumStates:    cfg.TargetNumStates,
			MaxHyps:            cfg.MaxHyps,
			IgnoreAbsentModels: cfg.IgnoreAbsentModels,
			Workers:            cfg.NumThreads,
		}, prog.log)
	if err := driver.VerifyStatistics(); err != nil {
		return err
	}

	if cfg.DiagnosticsAddr != "" {
		server := cdtrans.NewDiagnosticsServer(prog.inventory, prog.trans, prog.syms, prog.log)
		var mu sync.RWMutex
		server.SetLock(&mu)
		driver.SetDataLock(&mu)
		go func() {
			if err := server.ListenAndServe(cfg.DiagnosticsAddr); err != nil {
				prog.log.Warn("diagnostics server failed", zap.Error(err))
			}
		}()
	}

	var recipeFile, replayFile *os.File
	if cfg.SaveSplits != "" {
		f, err := os.Create(cfg.SaveSplits)
		if err != nil {
			return err
		}
		recipeFile = f
		writer, err := cdtrans.NewRecipeWriter(f)
		if err != nil {
			f.Close()
			return err
		}
		driver.SetRecipeWriter(writer)
		defer func() {
			writer.Flush()
			recipeFile.Close()
		}()
	}
	if cfg.Replay != "" {
		f, err := os.Open(cfg.Replay)
		if err != nil {
			return err
		}
		replayFile = f
		reader, err := cdtrans.NewRecipeReader(f)
		if err != nil {
			f.Close()
			return err
		}
		driver.SetReplayReader(reader)
		defer replayFile.Close()
	}

	driver.InitHypotheses()
	if err := driver.Run(); err != nil {
		return err
	}

	check := cdtrans.NewTransducerCheck(prog.trans, prog.info,
		cfg.NumLeftContexts, cfg.NumRightContexts, prog.log)
	if !check.IsValid() {
		// The transducer is still written so the discrepancy can be
		// diagnosed downstream.
		prog.log.Warn("transducer failed validation")
	}
	return nil
}

func (prog *program) writeOutputs() error {
	cfg := &prog.cfg
	prog.hmm = cdtrans.NewHMMCompiler(prog.inventory, prog.syms, cdtrans.NewScorer(cfg.VarianceFloor))
	if err := prog.hmm.Enumerate(); err != nil {
		return err
	}
	prog.log.Info("enumerated models",
		zap.Int("num_hmms", prog.hmm.NumHMMs()),
		zap.Int("num_state_models", prog.hmm.NumStateModels()))

	outputs := []struct {
		path  string
		write func(io.Writer) error
	}{
		{cfg.HMMList, prog.hmm.WriteHMMList},
		{cfg.HMMSymsOut, func(w io.Writer) error { return cdtrans.WriteSymbolTable(w, prog.hmm.HMMSymbols()) }},
		{cfg.StateSymsOut, func(w io.Writer) error { return cdtrans.WriteSymbolTable(w, prog.hmm.StateSymbols()) }},
		{cfg.CDToPhoneMap, prog.hmm.WriteCDToPhoneMap},
		{cfg.CDToCIStateMap, prog.hmm.WriteStateNameMap},
		{cfg.HTrans, prog.hmm.WriteHMMTransducer},
		{cfg.LeafModel, func(w io.Writer) error { return prog.hmm.WriteGaussians(w, cfg.LeafModelType) }},
		{cfg.StateModelLog, func(w io.Writer) error {
			return cdtrans.WriteStateModelLog(w, prog.inventory, prog.syms, prog.hmm.StateModelName)
		}},
		{cfg.TransducerLog, func(w io.Writer) error {
			return cdtrans.WriteTransducerLog(w, prog.trans, prog.syms)
		}},
	}
	for _, out := range outputs {
		if out.path == "" {
			continue
		}
		if err := createFile(out.path, out.write); err != nil {
			return err
		}
	}

	if cfg.CTrans != "" {
		boundary, _ := prog.syms.ID(cfg.BoundaryContext)
		compiler := cdtrans.NewCTransducerCompiler(prog.trans, prog.hmm, boundary)
		c, err := compiler.Compile()
		if err != nil {
			return err
		}
		cdtrans.EpsilonClosure(c)
		if err := createFile(cfg.CTrans, c.WriteText); err != nil {
			return err
		}
	}
	return nil
}
