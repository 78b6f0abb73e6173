package gaze

// Standard lesson geometry. The coordinates centre the reading block on a
// 1512x982 layout; sessions that seed the lesson get the same AOI set the
// frontend renders.
const (
	lessonCenterX = 756
	lessonCenterY = 491
)

// StandardLessonAOIs returns the built-in environmental-science lesson: ten
// vocabulary words plus the surrounding content areas. IDs are stable so
// hits and discoveries survive re-seeding.
func StandardLessonAOIs() []AOI {
	vocab := []struct {
		word       string
		x, y, w, h float64
		difficulty int
	}{
		{"biodiversity", lessonCenterX - 200, lessonCenterY - 100, 100, 20, 5},
		{"ecosystem", lessonCenterX - 50, lessonCenterY - 100, 80, 20, 3},
		{"conservation", lessonCenterX + 50, lessonCenterY - 100, 110, 20, 3},
		{"sustainable", lessonCenterX - 100, lessonCenterY - 70, 90, 20, 3},
		{"unprecedented", lessonCenterX - 150, lessonCenterY - 40, 120, 20, 5},
		{"trajectory", lessonCenterX, lessonCenterY - 40, 85, 20, 3},
		{"artificial", lessonCenterX - 200, lessonCenterY, 80, 20, 3},
		{"algorithm", lessonCenterX - 100, lessonCenterY, 85, 20, 5},
		{"challenging", lessonCenterX - 165, lessonCenterY + 50, 80, 20, 3},
		{"vocabulary", lessonCenterX - 80, lessonCenterY + 50, 75, 20, 1},
	}
	content := []struct {
		id, text   string
		x, y, w, h float64
	}{
		{"main_text", "Main reading content", lessonCenterX - 250, lessonCenterY - 25, 500, 50},
		{"lesson_content", "Lesson area", lessonCenterX - 300, lessonCenterY - 150, 600, 300},
		{"instructions", "Reading instructions", lessonCenterX - 200, lessonCenterY + 100, 400, 30},
	}

	out := make([]AOI, 0, len(vocab)+len(content))
	for _, v := range vocab {
		out = append(out, AOI{
			ID: v.word, X: v.x, Y: v.y, W: v.w, H: v.h,
			Kind: AOIVocab, Text: v.word, Difficulty: v.difficulty,
		})
	}
	for _, c := range content {
		out = append(out, AOI{
			ID: c.id, X: c.x, Y: c.y, W: c.w, H: c.h,
			Kind: AOIContent, Text: c.text,
		})
	}
	return out
}
