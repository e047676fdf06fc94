// Package cmd provides the command line surface of percolator.
package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grosenberger/percolator/pkg/pipeline"
)

var (
	xmlOutput      string
	stdInput       bool
	stdInputXML    bool
	decoyXMLOutput bool

	cpos            float64
	cneg            float64
	testFDR         float64
	trainFDR        float64
	maxIter         int
	subsetMaxTrain  int
	quickValidation bool

	tabOut   string
	tabIn    string
	xmlIn    string
	oswIn    string
	oswLevel string

	weightsOut  string
	initWeights string
	defaultDir  string

	verbose           int
	noTerminate       bool
	unitNorm          bool
	testEachIteration bool
	override          bool
	seed              int
	doc               bool
	klammer           bool

	resultsPeptides      string
	decoyResultsPeptides string
	resultsPSMs          string
	decoyResultsPSMs     string
	onlyPSMs             bool

	mixMax      bool
	tdc         bool
	searchInput string

	pickedProtein        string
	fidoProtein          bool
	resultsProteins      string
	decoyResultsProteins string
	proteinDecoyPattern  string
	proteinEnzyme        string
)

var rootCmd = &cobra.Command{
	Use:   "percolator [flags] pin.tsv",
	Short: "Semi-supervised re-ranking of peptide-spectrum matches",
	Long: `Percolator re-ranks peptide-spectrum matches from a target-decoy search by
learning a linear classifier with nested cross-validation, then converts the
scores into q-values and posterior error probabilities at PSM, peptide and
protein level.

The tab delimited input fields are:
  id <tab> label <tab> scannr <tab> feature1 <tab> ... <tab> featureN
  <tab> peptide <tab> proteinId1 <tab> .. <tab> proteinIdM
Labels are interpreted as 1 -- positive and test set, -1 -- negative set.`,
	Version:      pipeline.Version,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.Flags()

	f.StringVarP(&xmlOutput, "xmloutput", "X", "", "Path to xml-output (pout) file")
	f.BoolVar(&stdInput, "stdinput", false, "Read tab-input format (pin-tab) from standard input")
	f.BoolVarP(&stdInputXML, "stdinput-xml", "e", false, "Read xml-input format (pin-xml) from standard input")
	f.BoolVarP(&decoyXMLOutput, "decoy-xml-output", "Z", false, "Include decoys (PSMs, peptides and/or proteins) in the xml-output. Only available if -X is set")
	f.Float64VarP(&cpos, "Cpos", "p", 0, "Penalty for mistakes made on positive examples. Set by cross validation if not specified")
	f.Float64VarP(&cneg, "Cneg", "n", 0, "Penalty for mistakes made on negative examples. Set by cross validation if not specified or if --Cpos is not specified")
	f.Float64VarP(&testFDR, "testFDR", "t", 0.01, "False discovery rate threshold for evaluating best cross validation result and reported end result")
	f.Float64VarP(&trainFDR, "trainFDR", "F", 0.01, "False discovery rate threshold to define positive examples in training. Set to testFDR if 0")
	f.IntVarP(&maxIter, "maxiter", "i", 10, "Maximal number of iterations")
	f.IntVarP(&subsetMaxTrain, "subset-max-train", "N", 0, "Only train an SVM on a subset of PSMs, and use the resulting score vector to evaluate the other PSMs. Recommended for huge numbers of PSMs. When set to 0, all PSMs are used as normal")
	f.BoolVarP(&quickValidation, "quick-validation", "x", false, "Quicker execution by reduced internal cross-validation")
	f.StringVarP(&tabOut, "tab-out", "J", "", "Output computed features to given file in pin-tab format")
	f.StringVarP(&tabIn, "tab-in", "j", "", "Input file given in pin-tab format. This is the default setting, the flag only exists for backwards compatibility")
	f.StringVar(&oswIn, "osw-in", "", "Input file given in OpenSWATH OSW format")
	f.StringVar(&oswLevel, "osw-level", "MS2", "Data-level (MS1 [MS1], MS2 [MS2] or Transitions [T]) for OpenSWATH")
	f.StringVarP(&xmlIn, "xml-in", "k", "", "Input file given in deprecated pin-xml format")
	f.StringVarP(&weightsOut, "weights", "w", "", "Output final weights to given file")
	f.StringVarP(&initWeights, "init-weights", "W", "", "Read initial weights from given file (one per line)")
	f.StringVarP(&defaultDir, "default-direction", "V", "", "Use given feature name as initial search direction; can be negated to indicate that a lower value is better")
	f.IntVarP(&verbose, "verbose", "v", 2, "Set verbosity of output: 0=no processing info, 5=all")
	f.BoolVarP(&noTerminate, "no-terminate", "o", false, "Do not stop execution when encountering questionable SVM inputs or results")
	f.BoolVarP(&unitNorm, "unitnorm", "u", false, "Use unit normalization [0-1] instead of standard deviation normalization")
	f.BoolVarP(&testEachIteration, "test-each-iteration", "R", false, "Measure performance on test set each iteration")
	f.BoolVarP(&override, "override", "O", false, "Override error check and do not fall back on default score vector in case of suspect score vector from SVM")
	f.IntVarP(&seed, "seed", "S", 1, "Set seed of the random number generator")
	f.BoolVarP(&doc, "doc", "D", false, "Include description of correct features: how much a match deviates from the retention time and mass behavior expected of a correct identification")
	f.BoolVarP(&klammer, "klammer", "K", false, "Retention time features are calculated as in Klammer et al. Only available if -D is set")
	f.StringVarP(&resultsPeptides, "results-peptides", "r", "", "Output tab delimited results of peptides to a file instead of stdout (ignored with -U)")
	f.StringVarP(&decoyResultsPeptides, "decoy-results-peptides", "B", "", "Output tab delimited results for decoy peptides into a file (ignored with -U)")
	f.StringVarP(&resultsPSMs, "results-psms", "m", "", "Output tab delimited results of PSMs to a file instead of stdout")
	f.StringVarP(&decoyResultsPSMs, "decoy-results-psms", "M", "", "Output tab delimited results for decoy PSMs into a file")
	f.BoolVarP(&onlyPSMs, "only-psms", "U", false, "Do not remove redundant peptides; keep all PSMs and exclude peptide level probabilities")
	f.BoolVarP(&mixMax, "post-processing-mix-max", "y", false, "Use the mix-max method to assign q-values and PEPs. Separate target and decoy searches use it by default; on input auto-detected as a concatenated search it overrides the detection, and it is rejected together with -I concatenated")
	f.BoolVarP(&tdc, "post-processing-tdc", "Y", false, "Replace the mix-max method by target-decoy competition for assigning q-values and PEPs")
	f.StringVarP(&searchInput, "search-input", "I", "auto", "Type of target-decoy search: \"auto\", \"concatenated\" or \"separate\"")
	f.StringVarP(&pickedProtein, "picked-protein", "f", "", "Use the picked protein-level FDR to infer protein probabilities. Set to \"auto\" to skip protein grouping")
	f.BoolVarP(&fidoProtein, "fido-protein", "A", false, "Use the Fido algorithm to infer protein probabilities")
	f.StringVarP(&resultsProteins, "results-proteins", "l", "", "Output tab delimited results of proteins to a file instead of stdout (only valid with -A or -f)")
	f.StringVarP(&decoyResultsProteins, "decoy-results-proteins", "L", "", "Output tab delimited results for decoy proteins into a file (only valid with -A or -f)")
	f.StringVarP(&proteinDecoyPattern, "protein-decoy-pattern", "P", "random_", "Define the text pattern to identify decoy proteins in the database")
	f.StringVarP(&proteinEnzyme, "protein-enzyme", "z", "trypsin", "Type of enzyme used for the in-silico digest during protein grouping")
}

func run(cmd *cobra.Command, args []string) error {
	p := pipeline.Params{
		XMLOutputPath:          xmlOutput,
		XMLPrintDecoys:         decoyXMLOutput,
		XMLPrintExpMass:        true,
		TabOutputPath:          tabOut,
		WeightOutputPath:       weightsOut,
		PsmResultPath:          resultsPSMs,
		DecoyPsmResultPath:     decoyResultsPSMs,
		PeptideResultPath:      resultsPeptides,
		DecoyPeptideResultPath: decoyResultsPeptides,
		ProteinResultPath:      resultsProteins,
		DecoyProteinResultPath: decoyResultsProteins,
		ReportUniquePeptides:   !onlyPSMs,
		InputSearchType:        searchInput,
		SelectionFdr:           trainFDR,
		TestFdr:                testFDR,
		NumIterations:          maxIter,
		MaxPSMs:                subsetMaxTrain,
		Cpos:                   cpos,
		Cneg:                   cneg,
		ReportEachIteration:    testEachIteration,
		QuickValidation:        quickValidation,
		InitWeightsPath:        initWeights,
		DefaultDirection:       defaultDir,
		Override:               override,
		UnitNorm:               unitNorm,
		Seed:                   uint64(seed),
		Verbosity:              verbose,
		NoTerminate:            noTerminate,
		CalcDoc:                doc,
		Klammer:                klammer,
		DecoyPattern:           proteinDecoyPattern,
		Call:                   strings.Join(os.Args, " "),
	}

	if stdInputXML || xmlIn != "" {
		return fmt.Errorf("the pin-xml input format is deprecated and not supported; convert the input to pin-tab")
	}
	if fidoProtein {
		return fmt.Errorf("the Fido protein inference engine is not available; use --picked-protein instead")
	}
	if klammer && !doc {
		return fmt.Errorf("the --klammer option is only available together with --doc")
	}

	if onlyPSMs {
		if resultsPeptides != "" {
			if resultsPSMs == "" {
				log.Printf("warning: -r cannot be used with -U: no peptide level statistics are calculated, redirecting PSM level statistics to the provided file")
				p.PsmResultPath = resultsPeptides
			} else {
				log.Printf("warning: -r cannot be used with -U: no peptide level statistics are calculated, ignoring -r")
			}
			p.PeptideResultPath = ""
		}
		if decoyResultsPeptides != "" {
			if decoyResultsPSMs == "" {
				log.Printf("warning: -B cannot be used with -U: redirecting decoy PSM level statistics to the provided file")
				p.DecoyPsmResultPath = decoyResultsPeptides
			} else {
				log.Printf("warning: -B cannot be used with -U: ignoring -B")
			}
			p.DecoyPeptideResultPath = ""
		}
	}

	if cneg != 0 && cpos == 0 {
		log.Printf("warning: the positive penalty (Cpos) is 0, so both penalties will be cross-validated; --Cneg has to be used together with --Cpos")
	}

	if mixMax && tdc {
		return fmt.Errorf("the -Y/--post-processing-tdc and -y/--post-processing-mix-max options were both set; use only one at a time")
	}
	p.UseMixMax = mixMax
	p.TargetDecoyCompetition = tdc

	switch searchInput {
	case "concatenated":
		if mixMax {
			return fmt.Errorf("concatenated search input is incompatible with the -y/--post-processing-mix-max option")
		}
		p.UseMixMax = false
		p.TargetDecoyCompetition = tdc
	case "separate":
		if !tdc {
			p.UseMixMax = true
		}
	case "auto":
	default:
		return fmt.Errorf("the -I/--search-input option has to be one of \"concatenated\", \"separate\" or \"auto\"")
	}

	if pickedProtein != "" {
		p.PickedProtein = true
		if pickedProtein != "auto" {
			log.Printf("warning: protein grouping from a fasta database (enzyme %q) is not implemented, continuing without grouping", proteinEnzyme)
		}
	}

	// resolve the input source
	switch {
	case oswIn != "":
		p.OSWInput = true
		p.OSWLevel = oswLevel
		p.InputPath = oswIn
		p.ReportUniquePeptides = false
		p.InputSearchType = "separate"
		if !tdc {
			p.UseMixMax = true
		}
	case tabIn != "":
		p.InputPath = tabIn
	case stdInput:
		p.ReadStdIn = true
	}

	if len(args) == 1 {
		if tabIn != "" {
			return fmt.Errorf("use either the positional pin-tab argument or the --tab-in flag, not both")
		}
		if stdInput {
			return fmt.Errorf("the pin file has already been given as standard input")
		}
		p.InputPath = args[0]
	}
	if p.InputPath == "" && !p.ReadStdIn {
		return fmt.Errorf("too few arguments: no input file given")
	}

	if p.ReadStdIn && p.MaxPSMs > 0 {
		log.Printf("warning: cannot use subset-max-train when reading from stdin, training on all data instead")
		p.MaxPSMs = 0
	}
	if p.SelectionFdr <= 0 {
		p.SelectionFdr = p.TestFdr
	}

	return pipeline.Run(p)
}
