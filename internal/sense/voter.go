package sense

import (
	"fmt"
	"math"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// voterCapacity bounds the vote history buffer. At one classification per
// fix this comfortably covers the vote window.
const voterCapacity = 120

// streakBonusStep is the per-entry increment of the consecutive-run bonus.
const streakBonusStep = 0.02

// VoteOutcome is the voter's decision for one cycle.
type VoteOutcome struct {
	// Decisive reports whether the vote produced a winner by the required
	// margin. When false the caller keeps the raw per-sample classification.
	Decisive bool

	Result Classification
}

// Voter smooths raw classifications with confidence-weighted voting over the
// recent history. Each entry's vote decays exponentially with age, with the
// half-life scaled by its source's quality weight, so one definitive floor
// reading outvotes a minute of zone guesses.
type Voter struct {
	cfg   *config.TuningConfig
	clock timeutil.Clock

	entries *ring[HistoryEntry]
}

// NewVoter returns an empty voter.
func NewVoter(cfg *config.TuningConfig, clock timeutil.Clock) *Voter {
	return &Voter{
		cfg:     cfg,
		clock:   clock,
		entries: newRing[HistoryEntry](voterCapacity, cfg.GetVoteWindow()),
	}
}

// Record appends a raw classification to the vote history. Entries are
// immutable once recorded.
func (v *Voter) Record(at time.Time, result Classification) {
	v.entries.add(at, HistoryEntry{
		Time:          at,
		Result:        result,
		QualityWeight: result.Source.QualityWeight(),
	})
}

// History returns the entries inside the vote window, oldest first.
func (v *Voter) History() []HistoryEntry {
	entries := v.entries.recent(v.clock.Now())
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// Vote produces the stabilized classification for the current history.
func (v *Voter) Vote() VoteOutcome {
	now := v.clock.Now()
	entries := v.entries.recent(now)
	if len(entries) == 0 {
		return VoteOutcome{}
	}

	// A definitive polygon entry moments ago short-circuits voting. Without
	// this, the outdoor history accumulated while approaching a building
	// outvotes the entry itself for several samples.
	if last := entries[len(entries)-1].value; last.Result.Source == SourcePolygon &&
		last.Result.Mode == ModeInside &&
		last.Result.Confidence >= 0.90 &&
		now.Sub(last.Time) <= v.cfg.GetVotePolygonFreshness() {
		return VoteOutcome{Decisive: true, Result: last.Result}
	}

	// Fast path: recent unanimous agreement at decent confidence needs no
	// weighing.
	if result, ok := v.fastPath(entries); ok {
		return VoteOutcome{Decisive: true, Result: result}
	}

	votes := make(map[Mode]float64)
	ln2 := math.Ln2
	baseHalfLife := v.cfg.GetVoteBaseHalfLife().Seconds()
	for _, e := range entries {
		entry := e.value
		if entry.Result.Mode == ModeUnknown {
			continue
		}
		halfLife := baseHalfLife * entry.QualityWeight
		if halfLife <= 0 {
			continue
		}
		age := now.Sub(entry.Time).Seconds()
		decay := math.Exp(-ln2 * age / halfLife)
		votes[entry.Result.Mode] += entry.Result.Confidence * entry.QualityWeight * decay
	}
	if len(votes) == 0 {
		return VoteOutcome{}
	}

	var winner Mode
	var winnerVote, runnerUpVote float64
	for mode, vote := range votes {
		switch {
		case vote > winnerVote:
			runnerUpVote = winnerVote
			winner, winnerVote = mode, vote
		case vote > runnerUpVote:
			runnerUpVote = vote
		}
	}

	winnerVote += v.streakBonus(entries, winner)

	if runnerUpVote > 0 && winnerVote < runnerUpVote*v.cfg.GetVoteDecisiveMargin() {
		return VoteOutcome{}
	}

	confidence := v.averageConfidence(entries, winner)
	return VoteOutcome{
		Decisive: true,
		Result: Classification{
			Mode:       winner,
			Confidence: clampConfidence(confidence, 0, 1),
			Source:     v.dominantSource(entries, winner),
			Reason: fmt.Sprintf("voted %s (%.2f vs %.2f over %d entries)",
				winner, winnerVote, runnerUpVote, len(entries)),
			Context: entries[len(entries)-1].value.Result.Context,
		},
	}
}

// fastPath accepts immediately when the last few entries unanimously agree
// above the minimum confidence.
func (v *Voter) fastPath(entries []ringEntry[HistoryEntry]) (Classification, bool) {
	n := v.cfg.GetVoteFastPathLength()
	if len(entries) < n {
		return Classification{}, false
	}
	tail := entries[len(entries)-n:]
	mode := tail[0].value.Result.Mode
	if mode == ModeUnknown {
		return Classification{}, false
	}
	minConf := v.cfg.GetVoteFastPathMinConf()
	for _, e := range tail {
		if e.value.Result.Mode != mode || e.value.Result.Confidence < minConf {
			return Classification{}, false
		}
	}
	latest := tail[len(tail)-1].value.Result
	latest.Reason = fmt.Sprintf("last %d samples unanimous: %s", n, latest.Reason)
	return latest, true
}

// streakBonus rewards a long unbroken run of the winning mode at the tail of
// the history, capped by configuration.
func (v *Voter) streakBonus(entries []ringEntry[HistoryEntry], winner Mode) float64 {
	streak := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].value.Result.Mode != winner {
			break
		}
		streak++
	}
	bonus := float64(streak) * streakBonusStep
	if max := v.cfg.GetVoteMaxStreakBonus(); bonus > max {
		bonus = max
	}
	return bonus
}

func (v *Voter) averageConfidence(entries []ringEntry[HistoryEntry], mode Mode) float64 {
	var sum float64
	count := 0
	for _, e := range entries {
		if e.value.Result.Mode == mode {
			sum += e.value.Result.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// dominantSource returns the highest-quality source among the entries that
// voted for the mode.
func (v *Voter) dominantSource(entries []ringEntry[HistoryEntry], mode Mode) Source {
	best := SourceFallback
	bestWeight := 0.0
	for _, e := range entries {
		if e.value.Result.Mode != mode {
			continue
		}
		if w := e.value.QualityWeight; w > bestWeight {
			bestWeight = w
			best = e.value.Result.Source
		}
	}
	return best
}

// DistinctSources counts the distinct signal sources among recent entries
// agreeing with the mode. The mode lock requires evidence from more than one
// source before forming.
func (v *Voter) DistinctSources(window time.Duration, mode Mode) []Source {
	entries := v.entries.since(v.clock.Now(), window)
	seen := make(map[Source]bool)
	var out []Source
	for _, e := range entries {
		if e.value.Result.Mode != mode || seen[e.value.Result.Source] {
			continue
		}
		seen[e.value.Result.Source] = true
		out = append(out, e.value.Result.Source)
	}
	return out
}

// AgreementRun reports how many entries inside the window agree with the
// mode with no disagreement, and their average confidence. A single
// contradicting entry resets the run.
func (v *Voter) AgreementRun(window time.Duration, mode Mode) (count int, avgConfidence float64) {
	entries := v.entries.since(v.clock.Now(), window)
	var sum float64
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].value.Result.Mode != mode {
			break
		}
		count++
		sum += entries[i].value.Result.Confidence
	}
	if count == 0 {
		return 0, 0
	}
	return count, sum / float64(count)
}

// Reset clears the vote history.
func (v *Voter) Reset() {
	v.entries.clear()
}
