// Package models defines the records that flow through the synthesizer pipeline.
package models

// Category classifies an extracted requirement.
type Category string

const (
	CategoryFeatureRequest Category = "feature_request"
	CategoryBugReport      Category = "bug_report"
	CategoryEnhancement    Category = "enhancement"
	CategoryPainPoint      Category = "pain_point"
	CategoryQuestion       Category = "question"
)

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFeatureRequest, CategoryBugReport, CategoryEnhancement,
		CategoryPainPoint, CategoryQuestion:
		return true
	}
	return false
}

// PrioritySignal is the urgency indicator attached to a requirement.
type PrioritySignal string

const (
	SignalUrgent     PrioritySignal = "urgent"
	SignalBlocker    PrioritySignal = "blocker"
	SignalCritical   PrioritySignal = "critical"
	SignalHigh       PrioritySignal = "high"
	SignalMedium     PrioritySignal = "medium"
	SignalLow        PrioritySignal = "low"
	SignalNiceToHave PrioritySignal = "nice-to-have"
)

// Valid reports whether p is one of the defined priority signals.
func (p PrioritySignal) Valid() bool {
	switch p {
	case SignalUrgent, SignalBlocker, SignalCritical, SignalHigh,
		SignalMedium, SignalLow, SignalNiceToHave:
		return true
	}
	return false
}

// Requirement is a structured, attributed statement of user or business need
// extracted from free text. Immutable once extracted.
type Requirement struct {
	Requirement     string         `json:"requirement"`
	Category        Category       `json:"category"`
	PrioritySignal  PrioritySignal `json:"priority_signal"`
	Impact          string         `json:"impact"`
	SourceCitation  string         `json:"source_citation"`
	ParagraphNumber int            `json:"paragraph_number"`
	Stakeholder     string         `json:"stakeholder"`
	Context         string         `json:"context"`
}
