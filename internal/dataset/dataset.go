package dataset

import (
	"github.com/batchkit/batchkit/internal/batchkwargs"
	"github.com/batchkit/batchkit/internal/frame"
)

type Options struct {
	DataAssetName string
	BatchKwargs   *batchkwargs.Kwargs
	Suite         *Suite
}

// Dataset is a loaded batch ready for validation. Its batch kwargs never hold
// the frame itself.
type Dataset struct {
	frame         *frame.Frame
	dataAssetName string
	batchKwargs   *batchkwargs.Kwargs
	suite         *Suite
}

// New wraps f. The dataset works on a copy of opts.Suite; the caller's suite
// is never modified.
func New(f *frame.Frame, opts Options) *Dataset {
	var suite *Suite
	if opts.Suite != nil {
		suite = opts.Suite.Clone()
	} else {
		suite = NewSuite(opts.DataAssetName, DefaultSuiteName)
	}
	if suite.DataAssetName == "" {
		suite.DataAssetName = opts.DataAssetName
	}
	kwargs := opts.BatchKwargs
	if kwargs == nil {
		kwargs = batchkwargs.New()
	}
	return &Dataset{
		frame:         f,
		dataAssetName: opts.DataAssetName,
		batchKwargs:   kwargs,
		suite:         suite,
	}
}

func (d *Dataset) Frame() *frame.Frame {
	return d.frame
}

func (d *Dataset) DataAssetName() string {
	return d.dataAssetName
}

func (d *Dataset) BatchKwargs() *batchkwargs.Kwargs {
	return d.batchKwargs
}

func (d *Dataset) Suite() *Suite {
	return d.suite
}

// ValidationResult is the outcome of running every expectation in the suite.
type ValidationResult struct {
	Success    bool       `json:"success"`
	Results    []Result   `json:"results"`
	Statistics Statistics `json:"statistics"`
}

type Statistics struct {
	Evaluated      int     `json:"evaluated_expectations"`
	Successful     int     `json:"successful_expectations"`
	Unsuccessful   int     `json:"unsuccessful_expectations"`
	SuccessPercent float64 `json:"success_percent"`
}

// Validate evaluates every expectation in the suite against the current frame.
// It does not modify the suite.
func (d *Dataset) Validate() ValidationResult {
	results := make([]Result, 0, len(d.suite.Expectations))
	for _, cfg := range d.suite.Expectations {
		results = append(results, d.evaluate(cfg))
	}
	return Summarize(results)
}

// Summarize aggregates results; any failed or errored result fails the whole.
func Summarize(results []Result) ValidationResult {
	out := ValidationResult{Success: true, Results: results}
	if out.Results == nil {
		out.Results = []Result{}
	}
	for _, result := range results {
		out.Statistics.Evaluated++
		if result.Success {
			out.Statistics.Successful++
		} else {
			out.Statistics.Unsuccessful++
			out.Success = false
		}
	}
	if out.Statistics.Evaluated > 0 {
		out.Statistics.SuccessPercent = 100 * float64(out.Statistics.Successful) / float64(out.Statistics.Evaluated)
	}
	return out
}
