package feedback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlet-data/gaze.report/internal/gaze"
)

func lessonIndex() *gaze.AOIIndex {
	idx := gaze.NewAOIIndex()
	idx.Add(gaze.AOI{ID: "biodiversity", X: 556, Y: 391, W: 100, H: 20, Kind: gaze.AOIVocab, Text: "biodiversity"})
	idx.Add(gaze.AOI{ID: "main_text", X: 506, Y: 466, W: 500, H: 50, Kind: gaze.AOIContent, Text: "Main reading content"})
	return idx
}

func fixationOn(aoiID string, endMS int64, durMS float64) gaze.Fixation {
	return gaze.Fixation{
		AOIID:      aoiID,
		StartNanos: (endMS - int64(durMS)) * 1e6,
		EndNanos:   endMS * 1e6,
		DurationMS: durMS,
	}
}

func TestVocabularyCardRule(t *testing.T) {
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())

	cmd := e.OnFixation(fixationOn("biodiversity", 5000, 1600))
	require.NotNil(t, cmd)
	assert.Equal(t, CommandVocabCard, cmd.Kind)
	assert.Equal(t, "s1", cmd.SessionID)
	assert.Equal(t, "biodiversity", cmd.AOIID)
	assert.Equal(t, "biodiversity", cmd.Word)
	assert.Equal(t, int64(5000*1e6), cmd.TimestampNanos)
	assert.InDelta(t, 1600.0, cmd.DurationMS, 1e-9)
}

func TestVocabularyRuleRequiresThreshold(t *testing.T) {
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())
	assert.Nil(t, e.OnFixation(fixationOn("biodiversity", 5000, 1400)))

	emitted, suppressed := e.Counters()
	assert.Zero(t, emitted)
	assert.Zero(t, suppressed, "an unmatched fixation is not a suppression")
}

func TestGrammarPopupRule(t *testing.T) {
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())

	assert.Nil(t, e.OnFixation(fixationOn("main_text", 4000, 1800)))

	cmd := e.OnFixation(fixationOn("main_text", 9500, 2100))
	require.NotNil(t, cmd)
	assert.Equal(t, CommandGrammarPopup, cmd.Kind)
	assert.Equal(t, "main_text", cmd.AOIID)
	assert.Empty(t, cmd.Word)
}

func TestHintRule(t *testing.T) {
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())

	cmd := e.OnFixation(fixationOn("", 8000, 3200))
	require.NotNil(t, cmd)
	assert.Equal(t, CommandHint, cmd.Kind)
	assert.Empty(t, cmd.AOIID)

	t.Run("unknown_aoi_behaves_like_no_aoi", func(t *testing.T) {
		e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())
		cmd := e.OnFixation(fixationOn("deleted-aoi", 8000, 3200))
		require.NotNil(t, cmd)
		assert.Equal(t, CommandHint, cmd.Kind)
		assert.Empty(t, cmd.AOIID)
	})
}

func TestRuleOrderingPrefersVocabulary(t *testing.T) {
	// A very long fixation on a vocabulary word matches every rule; the
	// vocabulary card wins.
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())
	cmd := e.OnFixation(fixationOn("biodiversity", 9000, 3500))
	require.NotNil(t, cmd)
	assert.Equal(t, CommandVocabCard, cmd.Kind)
}

func TestRateLimitSuppressesBurst(t *testing.T) {
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())

	require.NotNil(t, e.OnFixation(fixationOn("biodiversity", 10000, 1600)))

	// Two seconds later: matched but inside the 5s window.
	assert.Nil(t, e.OnFixation(fixationOn("biodiversity", 12000, 1600)))

	// 5.5 seconds after the emitted command: allowed again. The suppressed
	// attempt did not restart the window.
	require.NotNil(t, e.OnFixation(fixationOn("biodiversity", 15500, 1600)))

	emitted, suppressed := e.Counters()
	assert.Equal(t, int64(2), emitted)
	assert.Equal(t, int64(1), suppressed)
	assert.Len(t, e.Recent(), 2)
}

func TestDisabledRulesDoNotFire(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.EnableVocabulary = false
	cfg.EnableGrammar = false
	cfg.EnableHints = false
	e := NewRuleEngine("s1", cfg, lessonIndex())

	assert.Nil(t, e.OnFixation(fixationOn("biodiversity", 5000, 4000)))
	assert.Nil(t, e.OnFixation(fixationOn("main_text", 15000, 4000)))
	assert.Nil(t, e.OnFixation(fixationOn("", 25000, 4000)))

	emitted, _ := e.Counters()
	assert.Zero(t, emitted)
}

func TestRecentCommandsBounded(t *testing.T) {
	e := NewRuleEngine("s1", DefaultRuleConfig(), lessonIndex())

	for i := 0; i < 12; i++ {
		endMS := int64(10000 + i*6000) // spaced past the rate limit
		require.NotNil(t, e.OnFixation(fixationOn("biodiversity", endMS, 1600)), fmt.Sprintf("command %d", i))
	}

	recent := e.Recent()
	require.Len(t, recent, recentCommandLimit)
	assert.Equal(t, int64(22000*1e6), recent[0].TimestampNanos, "oldest two rolled off")
	assert.Equal(t, int64(76000*1e6), recent[len(recent)-1].TimestampNanos)
}
