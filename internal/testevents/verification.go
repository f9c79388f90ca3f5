package testevents

import (
	"context"
	"sort"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/pkg/logger"
)

// tally counts verdicts per scenario. Failed attempts are not counted.
func tally(attempts []Attempt) map[Scenario]map[model.Verdict]int {
	out := make(map[Scenario]map[model.Verdict]int)
	for _, a := range attempts {
		if a.Err != "" {
			continue
		}
		if out[a.Scenario] == nil {
			out[a.Scenario] = make(map[model.Verdict]int)
		}
		out[a.Scenario][a.Verdict]++
	}
	return out
}

// Rate is the share of scenario attempts that ended in one of verdicts, as a
// percentage. It is 0 when the scenario has no counted attempts.
func (s *Stats) Rate(scenario Scenario, verdicts ...model.Verdict) float64 {
	counts := s.Verdicts[scenario]
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	hit := 0
	for _, v := range verdicts {
		hit += counts[v]
	}
	return float64(hit) / float64(total) * PercentageMultiplier
}

// displayFinalStats logs the run statistics and per-scenario verdict mix.
func displayFinalStats(ctx context.Context, stats *Stats) {
	log := logger.Get().Named("testevents")

	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.SamplesSubmitted+stats.Verifications+2*stats.AnswersAccepted) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int("typists", stats.TypistsGenerated),
		logger.Int("enrolled", stats.Enrolled),
		logger.Int("samplesSubmitted", stats.SamplesSubmitted),
		logger.Int("samplesRejected", stats.SamplesRejected),
		logger.Int("verifications", stats.Verifications),
		logger.Int("verifyFailed", stats.VerifyFailed),
		logger.Int("answersAccepted", stats.AnswersAccepted),
		logger.Int("answersDuplicate", stats.AnswersDuplicate),
		logger.Int("answersResolved", stats.AnswersResolved),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("requestsPerSecond", perSecond),
		logger.Float64("genuineAcceptRate", stats.Rate(ScenarioGenuine, model.VerdictAccepted)),
		logger.Float64("impostorRejectRate", stats.Rate(ScenarioImpostor, model.VerdictRejected)),
		logger.Float64("pasteFlagRate", stats.Rate(ScenarioPaste, model.VerdictSuspiciousPaste)),
	)

	scenarios := make([]string, 0, len(stats.Verdicts))
	for s := range stats.Verdicts {
		scenarios = append(scenarios, string(s))
	}
	sort.Strings(scenarios)
	for _, s := range scenarios {
		fields := []logger.Field{logger.String("scenario", s)}
		for v, n := range stats.Verdicts[Scenario(s)] {
			fields = append(fields, logger.Int(string(v), n))
		}
		log.Info(ctx, "verdict distribution", fields...)
	}
}
