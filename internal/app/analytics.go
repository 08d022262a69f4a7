package app

import (
	"sort"

	"livequiz-service/internal/domain"
)

// Aggregate folds a session's answer log into summary statistics. It is pure
// and read-only, and works for in-progress sessions as well as completed ones.
func Aggregate(session *domain.Session, answers []domain.AnswerRecord) domain.SessionSummary {
	summary := domain.SessionSummary{
		SessionID:        session.ID,
		State:            session.State,
		ParticipantCount: len(session.Participants),
		AnswersSubmitted: len(answers),
	}

	switch {
	case session.State == domain.StateCompleted:
		summary.QuestionsPresented = session.QuestionCount
	case session.CurrentQuestion >= 0:
		summary.QuestionsPresented = session.CurrentQuestion + 1
	}

	if len(session.Participants) > 0 {
		var scoreSum float64
		var accuracySum float64
		for _, p := range session.Participants {
			scoreSum += float64(p.Score)
			if p.TotalAnswers > 0 {
				accuracySum += float64(p.CorrectAnswers) / float64(p.TotalAnswers)
			}
		}
		summary.AverageScore = scoreSum / float64(len(session.Participants))
		summary.AverageAccuracy = accuracySum / float64(len(session.Participants))
	}

	perQuestion := make(map[int]*domain.QuestionStats)
	var responseSum float64
	for _, a := range answers {
		responseSum += float64(a.ResponseTimeMs)
		stats, ok := perQuestion[a.QuestionIndex]
		if !ok {
			stats = &domain.QuestionStats{Index: a.QuestionIndex}
			perQuestion[a.QuestionIndex] = stats
		}
		stats.Answers++
		if a.Correct {
			stats.Correct++
		}
		stats.AvgResponseTimeMs += float64(a.ResponseTimeMs)
	}
	if len(answers) > 0 {
		summary.AvgResponseTimeMs = responseSum / float64(len(answers))
	}

	summary.Questions = make([]domain.QuestionStats, 0, len(perQuestion))
	for _, stats := range perQuestion {
		stats.AvgResponseTimeMs /= float64(stats.Answers)
		summary.Questions = append(summary.Questions, *stats)
	}
	sort.Slice(summary.Questions, func(i, j int) bool {
		return summary.Questions[i].Index < summary.Questions[j].Index
	})
	return summary
}
