package models

// CoveredRequirement pairs a requirement with the backlog item that covers it.
type CoveredRequirement struct {
	Requirement Requirement `json:"requirement"`
	CoveredBy   MatchedItem `json:"covered_by"`
	Similarity  float64     `json:"similarity_score"`
}

// MatchedItem is the nearest indexed item returned by a similarity query.
type MatchedItem struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

// GapAnalysis partitions candidate requirements into novel and covered.
// Both lists preserve candidate input order independently.
type GapAnalysis struct {
	Novel        []Requirement        `json:"novel_requirements"`
	Covered      []CoveredRequirement `json:"covered_requirements"`
	TotalNovel   int                  `json:"total_novel"`
	TotalCovered int                  `json:"total_covered"`
}
