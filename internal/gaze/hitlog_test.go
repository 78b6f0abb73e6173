package gaze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitLogDwellAccumulation(t *testing.T) {
	l := NewHitLog("s1")
	word := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}

	h1 := l.OnSample(calSample(1000, 50, 50, 0.8), &word)
	require.NotNil(t, h1)
	assert.Equal(t, int64(1), h1.Seq)
	assert.Zero(t, h1.DwellMS)

	h2 := l.OnSample(calSample(1010, 51, 50, 0.8), &word)
	require.NotNil(t, h2)
	assert.Equal(t, int64(2), h2.Seq)
	assert.InDelta(t, 10.0, h2.DwellMS, 1e-9)

	h3 := l.OnSample(calSample(1020, 52, 50, 0.8), &word)
	require.NotNil(t, h3)
	assert.InDelta(t, 20.0, h3.DwellMS, 1e-9)

	agg := l.Aggregates()["w1"]
	assert.Equal(t, int64(3), agg.Count)
	assert.InDelta(t, 20.0, agg.TotalDwellMS, 1e-9)
	assert.Equal(t, int64(1020*1e6), agg.LastHitNanos)
	assert.InDelta(t, 0.8, agg.MeanConfidence, 1e-9)

	// Leaving the AOI closes the run; re-entry starts dwell from zero.
	require.Nil(t, l.OnSample(calSample(1030, 500, 500, 0.8), nil))
	h4 := l.OnSample(calSample(1040, 50, 50, 0.8), &word)
	require.NotNil(t, h4)
	assert.Equal(t, int64(4), h4.Seq)
	assert.Zero(t, h4.DwellMS)

	h5 := l.OnSample(calSample(1050, 50, 50, 0.8), &word)
	require.NotNil(t, h5)
	assert.InDelta(t, 10.0, h5.DwellMS, 1e-9)
	assert.InDelta(t, 30.0, l.Aggregates()["w1"].TotalDwellMS, 1e-9)
}

func TestHitLogHitFields(t *testing.T) {
	l := NewHitLog("s1")
	word := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}

	hit := l.OnSample(calSample(1000, 53, 54, 0.9), &word)
	require.NotNil(t, hit)
	assert.Equal(t, "s1", hit.SessionID)
	assert.Equal(t, "w1", hit.AOIID)
	assert.Equal(t, "habitat", hit.AOIText)
	assert.True(t, hit.IsVocab)
	assert.Equal(t, Hit2D, hit.Type)
	assert.Equal(t, 50.0, hit.AOICenterX)
	assert.Equal(t, 50.0, hit.AOICenterY)
	assert.Equal(t, 53.0, hit.GazeX)
	// Confident and centred but no dwell yet grades fair.
	assert.Equal(t, QualityFair, hit.Quality)

	cs := calSample(1010, 53, 54, 0.9)
	cs.Valid3D = true
	hit = l.OnSample(cs, &word)
	require.NotNil(t, hit)
	assert.Equal(t, Hit3D, hit.Type)
}

func TestHitLogAggregateMeanConfidence(t *testing.T) {
	l := NewHitLog("s1")
	word := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}

	for i, conf := range []float64{0.8, 0.9, 1.0} {
		l.OnSample(calSample(1000+int64(i)*10, 50, 50, conf), &word)
	}
	assert.InDelta(t, 0.9, l.Aggregates()["w1"].MeanConfidence, 1e-9)
}

func TestHitLogDiscoveries(t *testing.T) {
	l := NewHitLog("s1")
	vocab := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}
	content := AOI{ID: "c1", X: 0, Y: 200, W: 400, H: 100, Kind: AOIContent, Text: "paragraph"}

	fixOn := func(aoi *AOI, startMS int64, durMS float64) {
		l.OnEvent(Event{Type: EventFixation, Fixation: &Fixation{
			StartNanos: startMS * 1e6,
			EndNanos:   (startMS + int64(durMS)) * 1e6,
			DurationMS: durMS,
		}}, aoi)
	}

	fixOn(&vocab, 1000, 300)
	disc := l.Discoveries()
	require.Len(t, disc, 1)
	assert.Equal(t, "w1", disc[0].AOIID)
	assert.Equal(t, "habitat", disc[0].Text)
	assert.Equal(t, int64(1000*1e6), disc[0].FirstNanos)
	assert.InDelta(t, 300.0, disc[0].DwellMS, 1e-9)

	t.Run("longer_fixation_raises_dwell", func(t *testing.T) {
		fixOn(&vocab, 2000, 500)
		disc := l.Discoveries()
		require.Len(t, disc, 1)
		assert.InDelta(t, 500.0, disc[0].DwellMS, 1e-9)
		assert.Equal(t, int64(1000*1e6), disc[0].FirstNanos, "first timestamp is kept")
	})

	t.Run("shorter_fixation_keeps_dwell", func(t *testing.T) {
		fixOn(&vocab, 3000, 250)
		disc := l.Discoveries()
		require.Len(t, disc, 1)
		assert.InDelta(t, 500.0, disc[0].DwellMS, 1e-9)
	})

	t.Run("content_fixation_is_not_a_discovery", func(t *testing.T) {
		fixOn(&content, 4000, 400)
		assert.Len(t, l.Discoveries(), 1)
		assert.Len(t, l.AllFixations(), 4)
	})

	t.Run("saccades_recorded", func(t *testing.T) {
		l.OnEvent(Event{Type: EventSaccade, Saccade: &Saccade{StartNanos: 1, EndNanos: 2}}, nil)
		assert.Len(t, l.AllSaccades(), 1)
	})
}

func TestHitLogStats(t *testing.T) {
	l := NewHitLog("s1")
	vocab := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}
	content := AOI{ID: "c1", X: 0, Y: 200, W: 400, H: 100, Kind: AOIContent, Text: "paragraph"}

	// Two samples one minute apart anchor the session duration.
	l.OnSample(calSample(1000, 500, 500, 0.8), nil)
	l.OnSample(calSample(61000, 50, 50, 1.0), &vocab)

	l.OnEvent(Event{Type: EventFixation, Fixation: &Fixation{StartNanos: 2000 * 1e6, EndNanos: 2300 * 1e6, DurationMS: 300}}, &vocab)
	l.OnEvent(Event{Type: EventFixation, Fixation: &Fixation{StartNanos: 3000 * 1e6, EndNanos: 3400 * 1e6, DurationMS: 400}}, &content)
	l.OnEvent(Event{Type: EventSaccade, Saccade: &Saccade{StartNanos: 4000 * 1e6, EndNanos: 4100 * 1e6}}, nil)

	st := l.Stats()
	assert.Equal(t, int64(2), st.TotalSamples)
	assert.Equal(t, int64(1), st.TotalHits)
	assert.Equal(t, int64(2), st.FixationCount)
	assert.Equal(t, int64(1), st.SaccadeCount)
	assert.Equal(t, 1, st.VocabularyDiscovered)
	assert.InDelta(t, 0.9, st.AverageConfidence, 1e-9)
	assert.InDelta(t, 60000.0, st.SessionDurationMS, 1e-9)
	// Two distinct worded AOIs fixated over one minute.
	assert.InDelta(t, 2.0, st.WordsPerMinute, 1e-9)
}

func TestHitLogRecentBounds(t *testing.T) {
	l := NewHitLog("s1")
	word := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}
	for i := 0; i < 5; i++ {
		l.OnSample(calSample(1000+int64(i)*10, 50, 50, 0.8), &word)
	}

	recent := l.RecentHits(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].Seq)
	assert.Equal(t, int64(5), recent[1].Seq)

	assert.Len(t, l.RecentHits(10), 5)
	assert.Nil(t, l.RecentHits(0))
	assert.Len(t, l.AllHits(), 5)
}

func TestHitLogAggregatesAreCopies(t *testing.T) {
	l := NewHitLog("s1")
	word := AOI{ID: "w1", X: 0, Y: 0, W: 100, H: 100, Kind: AOIVocab, Text: "habitat"}
	l.OnSample(calSample(1000, 50, 50, 0.8), &word)

	got := l.Aggregates()["w1"]
	got.Quality[QualityExcellent] = 99

	fresh := l.Aggregates()["w1"]
	assert.Zero(t, fresh.Quality[QualityExcellent])
}
