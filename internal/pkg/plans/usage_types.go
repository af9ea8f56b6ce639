package plans

// UsageType identifies one metered feature bucket.
type UsageType string

const (
	UsageAIMessages       UsageType = "ai_messages_per_day"
	UsageMaterialSearches UsageType = "material_searches_per_day"
	UsageQuizzes          UsageType = "quizzes_per_week"
	UsageFlashcardSets    UsageType = "flashcard_sets_per_week"
	UsagePracticeProblems UsageType = "practice_problems_per_week"
	UsageStudyGuides      UsageType = "study_guides_per_week"
	UsageExams            UsageType = "exams_per_month"
)

// PeriodType is the rolling window a usage type is counted in.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Each usage type counts in exactly one period kind.
var usagePeriods = map[UsageType]PeriodType{
	UsageAIMessages:       PeriodDaily,
	UsageMaterialSearches: PeriodDaily,
	UsageQuizzes:          PeriodWeekly,
	UsageFlashcardSets:    PeriodWeekly,
	UsagePracticeProblems: PeriodWeekly,
	UsageStudyGuides:      PeriodWeekly,
	UsageExams:            PeriodMonthly,
}

// PeriodOf returns the window kind for a usage type. The second return is
// false for unknown usage types.
func PeriodOf(t UsageType) (PeriodType, bool) {
	p, ok := usagePeriods[t]
	return p, ok
}

// AllUsageTypes returns every known usage type in a stable order.
func AllUsageTypes() []UsageType {
	return []UsageType{
		UsageAIMessages,
		UsageMaterialSearches,
		UsageQuizzes,
		UsageFlashcardSets,
		UsagePracticeProblems,
		UsageStudyGuides,
		UsageExams,
	}
}

// toolUsage maps each AI tool to the bucket it consumes. Tools absent from
// this map are unmetered (course browsing, schedules and similar reads).
var toolUsage = map[string]UsageType{
	"ask_study_question":          UsageAIMessages,
	"explain_concept_deeply":      UsageAIMessages,
	"compare_concepts":            UsageAIMessages,
	"get_learning_path":           UsageAIMessages,
	"search_course_content":       UsageMaterialSearches,
	"summarize_material":          UsageMaterialSearches,
	"generate_quiz":               UsageQuizzes,
	"create_flashcards":           UsageFlashcardSets,
	"convert_notes_to_flashcards": UsageFlashcardSets,
	"generate_practice_problems":  UsagePracticeProblems,
	"generate_study_guide":        UsageStudyGuides,
	"generate_exam_simulator":     UsageExams,
	"submit_exam_answers":         UsageExams,
}

// ResolveUsageType returns the usage bucket an AI tool draws from. The second
// return is false when the tool is unmetered.
func ResolveUsageType(tool string) (UsageType, bool) {
	t, ok := toolUsage[tool]
	return t, ok
}
