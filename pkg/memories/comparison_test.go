package memories

import (
	"testing"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/stretchr/testify/assert"
)

func comparisonBlock(id string, group models.ComparisonGroup) models.ComparisonMemory {
	return models.ComparisonMemory{
		ID:              id,
		Enabled:         true,
		IntervalSeconds: 1,
		OutputPointID:   "result",
		Groups:          []models.ComparisonGroup{group},
	}
}

func TestComparisonThresholdHysteresis(t *testing.T) {
	f := newFixture()
	f.config.SetComparisonMemories([]models.ComparisonMemory{comparisonBlock("c1", models.ComparisonGroup{
		Mode:                models.ComparisonAnalog,
		Inputs:              []string{"in"},
		Predicate:           models.PredicateHigher,
		Threshold1:          50,
		ThresholdHysteresis: 5,
	})})

	p := NewComparisonProcessor(f.deps)
	f.refresh(t, p)

	scenarios := []struct {
		input    string
		expected string
	}{
		{"50", "0"},
		{"51", "1"},
		{"46", "1"},
		{"44", "0"},
		{"50", "0"},
	}
	for _, s := range scenarios {
		f.setFinal(t, "in", s.input)
		f.tick(t, p)
		value, ok := f.raw(t, "result")
		assert.True(t, ok)
		assert.Equal(t, s.expected, value, "input %s", s.input)
	}
}

func TestComparisonBetweenPredicate(t *testing.T) {
	f := newFixture()
	f.config.SetComparisonMemories([]models.ComparisonMemory{comparisonBlock("c1", models.ComparisonGroup{
		Mode:                models.ComparisonAnalog,
		Inputs:              []string{"in"},
		Predicate:           models.PredicateBetween,
		Threshold1:          10,
		Threshold2:          20,
		ThresholdHysteresis: 2,
	})})

	p := NewComparisonProcessor(f.deps)
	f.refresh(t, p)

	scenarios := []struct {
		input    string
		expected string
	}{
		{"9", "0"},
		{"10", "1"},
		{"21", "1"},
		{"23", "0"},
	}
	for _, s := range scenarios {
		f.setFinal(t, "in", s.input)
		f.tick(t, p)
		value, _ := f.raw(t, "result")
		assert.Equal(t, s.expected, value, "input %s", s.input)
	}
}

// Voting hysteresis: turning on needs RequiredVotes+VotingHysteresis
// satisfied inputs, staying on only RequiredVotes.
func TestComparisonVotingHysteresis(t *testing.T) {
	f := newFixture()
	f.config.SetComparisonMemories([]models.ComparisonMemory{comparisonBlock("c1", models.ComparisonGroup{
		Mode:             models.ComparisonAnalog,
		Inputs:           []string{"a", "b", "c"},
		Predicate:        models.PredicateHigher,
		Threshold1:       10,
		RequiredVotes:    2,
		VotingHysteresis: 1,
	})})

	p := NewComparisonProcessor(f.deps)
	f.refresh(t, p)

	// two of three satisfied: not enough to turn on
	f.setFinal(t, "a", "20")
	f.setFinal(t, "b", "20")
	f.setFinal(t, "c", "0")
	f.tick(t, p)
	value, _ := f.raw(t, "result")
	assert.Equal(t, "0", value)

	// all three: on
	f.setFinal(t, "c", "20")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "1", value)

	// back to two: stays on
	f.setFinal(t, "c", "0")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "1", value)

	// one: off
	f.setFinal(t, "b", "0")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "0", value)
}

func TestComparisonDigitalGroup(t *testing.T) {
	f := newFixture()
	f.config.SetComparisonMemories([]models.ComparisonMemory{comparisonBlock("c1", models.ComparisonGroup{
		Mode:          models.ComparisonDigital,
		Inputs:        []string{"d1", "d2"},
		DigitalValue:  "1",
		RequiredVotes: 2,
	})})

	p := NewComparisonProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "d1", "1")
	f.setFinal(t, "d2", "0")
	f.tick(t, p)
	value, _ := f.raw(t, "result")
	assert.Equal(t, "0", value)

	f.setFinal(t, "d2", "1")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "1", value)
}

// Groups OR: either passing group asserts the output.
func TestComparisonGroupsAreORed(t *testing.T) {
	f := newFixture()
	block := comparisonBlock("c1", models.ComparisonGroup{
		Mode:       models.ComparisonAnalog,
		Inputs:     []string{"a"},
		Predicate:  models.PredicateHigher,
		Threshold1: 10,
	})
	block.Groups = append(block.Groups, models.ComparisonGroup{
		Mode:       models.ComparisonAnalog,
		Inputs:     []string{"b"},
		Predicate:  models.PredicateLower,
		Threshold1: 5,
	})
	f.config.SetComparisonMemories([]models.ComparisonMemory{block})

	p := NewComparisonProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "a", "0")
	f.setFinal(t, "b", "7")
	f.tick(t, p)
	value, _ := f.raw(t, "result")
	assert.Equal(t, "0", value)

	f.setFinal(t, "b", "3")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "1", value)
}

// Two blocks sharing one target OR through the aggregator: the output clears
// only when both release it.
func TestComparisonSharedTarget(t *testing.T) {
	f := newFixture()
	higher := func(id, input string) models.ComparisonMemory {
		return comparisonBlock(id, models.ComparisonGroup{
			Mode:       models.ComparisonAnalog,
			Inputs:     []string{input},
			Predicate:  models.PredicateHigher,
			Threshold1: 10,
		})
	}
	f.config.SetComparisonMemories([]models.ComparisonMemory{higher("c1", "a"), higher("c2", "b")})

	p := NewComparisonProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "a", "20")
	f.setFinal(t, "b", "20")
	f.tick(t, p)
	value, _ := f.raw(t, "result")
	assert.Equal(t, "1", value)

	f.setFinal(t, "a", "0")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "1", value)

	f.setFinal(t, "b", "0")
	f.tick(t, p)
	value, _ = f.raw(t, "result")
	assert.Equal(t, "0", value)
}
