// Package events defines the user-activity and catalog-change events flowing
// through Kafka, the batch collector that publishes them, and the dispatcher
// that applies them to the recommendation services.
package events

import "time"

// Type discriminates activity events.
type Type string

const (
	// TypeExamPurchased is a strong consumption signal for an exam.
	TypeExamPurchased Type = "exam_purchased"
	// TypeQuestionUpvoted is a weaker consumption signal for a question.
	TypeQuestionUpvoted Type = "question_upvoted"
	// TypeExamCreated marks the exam index stale.
	TypeExamCreated Type = "exam_created"
	// TypeQuestionCreated marks the question index stale.
	TypeQuestionCreated Type = "question_created"
)

// Event is the unit published to the user-activity topic. EntityID names the
// exam or question; UserID is empty for catalog-change events.
type Event struct {
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
}
