// Package metrics computes the aggregate statistics the scheduler reports
// once every task has finished: per-paper means, an overall mean over the
// expected paper set (missing papers score 0), the sample standard error
// of those per-paper means, and a handful of health counters.
package metrics

import (
	"math"

	"github.com/paperbench/paperbench/pkg/runrecord"
)

// Input is one task's outcome as seen by the metrics layer: either a
// completed runrecord.Result, or a system error with Result left nil.
type Input struct {
	PaperID     string
	Result      *runrecord.Result
	SystemError bool
}

// Summary is the scheduler's final aggregate report.
type Summary struct {
	NSamples         int                 `json:"n_samples"`
	NCompleteTries   int                 `json:"n_complete_tries"`
	MeanScore        float64             `json:"mean_score"`
	StdErr           *float64            `json:"std_err"`
	MeanScoreByPaper map[string]float64  `json:"mean_score_by_paper"`

	NRolloutsFailed      int `json:"n_rollouts_failed"`
	NReproductionsFailed int `json:"n_reproductions_failed"`
	NGradingsFailed      int `json:"n_gradings_failed"`

	ReproMeanTime      *float64 `json:"repro_mean_time"`
	NIsValidGitRepo    int      `json:"n_is_valid_git_repo"`
	NNontrivialGitLog  int      `json:"n_nontrivial_git_log"`
	NReproScriptExists int      `json:"n_repro_script_exists"`
}

// Compute reduces per-task inputs into a Summary. expectedPapers is the
// full paper split; a paper entirely absent from non-error inputs
// contributes a 0 to the overall mean.
func Compute(inputs []Input, expectedPapers []string) *Summary {
	summary := &Summary{NSamples: len(inputs)}

	scoresByPaper := make(map[string][]float64)
	var reproTimes []float64

	for _, in := range inputs {
		if in.SystemError || in.Result == nil {
			continue
		}
		r := in.Result
		summary.NCompleteTries++

		if r.AgentOutput == nil || !r.SubmissionExists {
			summary.NRolloutsFailed++
		}
		if r.ReproductionMetadata == nil && !r.SkippedReproduction {
			summary.NReproductionsFailed++
		}
		if r.JudgeOutput == nil || !r.JudgeOutput.Success {
			summary.NGradingsFailed++
		}

		scoresByPaper[r.PaperID] = append(scoresByPaper[r.PaperID], r.Score)

		if m := r.ReproductionMetadata; m != nil {
			if m.IsValidGitRepo {
				summary.NIsValidGitRepo++
			}
			if nontrivialGitLog(m.GitLog) {
				summary.NNontrivialGitLog++
			}
			if m.ReproScriptExists {
				summary.NReproScriptExists++
			}
			if m.ExecutionTimeSeconds != nil {
				reproTimes = append(reproTimes, *m.ExecutionTimeSeconds)
			}
		}
	}

	meanByPaper := make(map[string]float64, len(expectedPapers))
	var paperMeans []float64
	for _, paperID := range expectedPapers {
		scores := scoresByPaper[paperID]
		mean := safeMean(scores) // 0 if the paper has no non-error attempts
		meanByPaper[paperID] = mean
		paperMeans = append(paperMeans, mean)
	}
	summary.MeanScoreByPaper = meanByPaper
	summary.MeanScore = safeMean(paperMeans)
	summary.StdErr = sampleStdErr(paperMeans)

	if mean, ok := safeMeanOK(reproTimes); ok {
		summary.ReproMeanTime = &mean
	}

	return summary
}

// safeMean returns 0 for an empty slice instead of NaN.
func safeMean(xs []float64) float64 {
	mean, _ := safeMeanOK(xs)
	return mean
}

func safeMeanOK(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// sampleStdErr returns the sample standard error of xs, or nil when xs
// has fewer than 2 elements and the statistic is undefined.
func sampleStdErr(xs []float64) *float64 {
	n := len(xs)
	if n < 2 {
		return nil
	}
	mean := safeMean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	variance := sumSq / float64(n-1)
	se := math.Sqrt(variance / float64(n))
	return &se
}

// nontrivialGitLog reports whether log has more than one line, mirroring
// eval.py's "len(git_log.strip().splitlines()) > 1" check.
func nontrivialGitLog(log string) bool {
	lines := 0
	inLine := false
	for i := 0; i < len(log); i++ {
		if log[i] == '\n' {
			if inLine {
				lines++
				inLine = false
			}
			continue
		}
		inLine = true
	}
	if inLine {
		lines++
	}
	return lines > 1
}
