package agent

import "fmt"

// Sentiment classifies the customer's mood in one interaction.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

func validSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentFrustrated:
		return true
	}
	return false
}

// Source is a knowledge-base reference used to answer.
type Source struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Decision is the structured output of one orchestrator run.
type Decision struct {
	Message        string    `json:"message"`
	Sentiment      Sentiment `json:"sentiment"`
	Confidence     float64   `json:"confidence"`
	ShouldHandoff  bool      `json:"shouldHandoff"`
	HandoffReason  string    `json:"handoffReason,omitempty"`
	HandoffSummary string    `json:"handoffSummary,omitempty"`
	Sources        []Source  `json:"sources,omitempty"`
}

// validate checks the decision shape produced from model output.
func (d *Decision) validate() error {
	if d.Message == "" {
		return fmt.Errorf("decision message is empty")
	}
	if !validSentiment(d.Sentiment) {
		return fmt.Errorf("invalid sentiment %q", d.Sentiment)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", d.Confidence)
	}
	return nil
}
