package orchestrator

import (
	"math"
	"sort"

	"github.com/lamim/examforge/pkg/models"
)

const (
	// DefaultZeroWeightThreshold is the target total at which zero-weight topics get one item
	DefaultZeroWeightThreshold = 500
	// nominalZeroWeight stands in for a zero weight in the weighted denominator
	nominalZeroWeight = 0.02
)

// QuotaPlan is the per-topic allocation for one run
type QuotaPlan struct {
	Targets         []models.GenerationTarget // every topic, heaviest first
	MainTotal       int                       // sum of weighted-topic quotas
	ZeroWeightExtra int                       // items granted to zero-weight topics
	Threshold       int
}

// Total returns the number of items the plan allocates
func (p QuotaPlan) Total() int {
	return p.MainTotal + p.ZeroWeightExtra
}

// Active returns the targets with a positive quota
func (p QuotaPlan) Active() []models.GenerationTarget {
	active := make([]models.GenerationTarget, 0, len(p.Targets))
	for _, t := range p.Targets {
		if t.Quota > 0 {
			active = append(active, t)
		}
	}
	return active
}

// ComputeQuotas distributes total items across topics by weight.
//
// A weighted topic gets max(1, round(w / totalWeight * total)). totalWeight
// counts every zero-weight topic as 0.02, even though those topics are
// allocated separately: one item each when total >= threshold, none otherwise.
// Negative weights are treated as zero.
func ComputeQuotas(topics []models.Topic, total, threshold int) QuotaPlan {
	if threshold <= 0 {
		threshold = DefaultZeroWeightThreshold
	}
	plan := QuotaPlan{Threshold: threshold}

	totalWeight := 0.0
	for _, t := range topics {
		if t.Weight > 0 {
			totalWeight += t.Weight
		} else {
			totalWeight += nominalZeroWeight
		}
	}

	plan.Targets = make([]models.GenerationTarget, 0, len(topics))
	for _, t := range topics {
		target := models.GenerationTarget{
			TopicID:   t.ID,
			TopicName: t.Name,
			Weight:    t.Weight,
		}
		if t.Weight > 0 {
			q := int(math.Round(t.Weight / totalWeight * float64(total)))
			target.Quota = max(1, q)
			plan.MainTotal += target.Quota
		} else {
			target.Weight = 0
			if total >= threshold {
				target.Quota = 1
				plan.ZeroWeightExtra++
			}
		}
		target.Remaining = target.Quota
		plan.Targets = append(plan.Targets, target)
	}

	sort.SliceStable(plan.Targets, func(i, j int) bool {
		return plan.Targets[i].Weight > plan.Targets[j].Weight
	})

	return plan
}
