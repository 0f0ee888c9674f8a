package domain

import "time"

// CallStatus tracks a recording through the processing pipeline.
// Status only moves forward (pending -> transcribing -> analyzing -> complete)
// or sideways to error from any non-terminal state, never backward.
type CallStatus string

const (
	StatusPending      CallStatus = "pending"
	StatusTranscribing CallStatus = "transcribing"
	StatusAnalyzing    CallStatus = "analyzing"
	StatusComplete     CallStatus = "complete"
	StatusError        CallStatus = "error"
)

// Terminal reports whether no further stage can run for this status.
func (s CallStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Speaker identifies which side of the call a turn belongs to.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

// Polarity classifies a key moment.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Severity ranks a compliance issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// CallRecord is the per-recording root entity. ID is assigned once at
// creation and never changes. Filename is the physical artifact name, which
// can differ from OriginalFilename after compression.
type CallRecord struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"originalFilename"`
	AgentName        string     `json:"agentName"`
	AgentID          string     `json:"agentId"`
	PhoneNumber      string     `json:"phoneNumber"`
	ExternalCallID   string     `json:"externalCallId"`
	Timestamp        time.Time  `json:"timestamp"`
	DurationSeconds  float64    `json:"durationSeconds,omitempty"`
	SizeBytes        int64      `json:"sizeBytes"`
	Status           CallStatus `json:"status"`
	TranscriptRef    string     `json:"transcriptRef,omitempty"`
	AnalysisRef      string     `json:"analysisRef,omitempty"`
	OverallScore     *float64   `json:"overallScore,omitempty"`
	ComplianceScore  *float64   `json:"complianceScore,omitempty"`
	CallType         string     `json:"callType,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Turn is one speaker-attributed utterance inside a transcript.
type Turn struct {
	Speaker          Speaker `json:"speaker"`
	Text             string  `json:"text"`
	TimestampSeconds float64 `json:"timestampSeconds"`
	Confidence       float64 `json:"confidence,omitempty"`
}

// Transcript holds the normalized speech-to-text output for one call.
// Turns are ordered by non-decreasing timestamp. A stored transcript is
// immutable; re-transcription writes a replacement.
type Transcript struct {
	CallID          string    `json:"callId"`
	Turns           []Turn    `json:"turns"`
	DurationSeconds float64   `json:"durationSeconds"`
	Language        string    `json:"language,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DimensionScores are the fixed 0-10 evaluation dimensions. The compliance
// dimensions are pointers because they are inapplicable (null) for some call
// types and must be skipped, not zeroed, when averaging.
type DimensionScores struct {
	Communication        float64  `json:"communication"`
	Empathy              float64  `json:"empathy"`
	Professionalism      float64  `json:"professionalism"`
	ProblemResolution    float64  `json:"problemResolution"`
	DPAVerification      *float64 `json:"dpaVerification,omitempty"`
	CoolingOffDisclosure *float64 `json:"coolingOffDisclosure,omitempty"`
	PricingTransparency  *float64 `json:"pricingTransparency,omitempty"`
	RegulatoryWording    *float64 `json:"regulatoryWording,omitempty"`
}

// ComplianceDimensions returns the nullable compliance scores in their fixed
// order. Nil entries mean the dimension did not apply to the call.
func (d DimensionScores) ComplianceDimensions() []*float64 {
	return []*float64{
		d.DPAVerification,
		d.CoolingOffDisclosure,
		d.PricingTransparency,
		d.RegulatoryWording,
	}
}

// KeyMoment is a timestamped, quoted excerpt cited as evidence for a score.
// Quote must be traceable to a transcript turn; moments that fail quote
// validation are never persisted.
type KeyMoment struct {
	TimestampSeconds float64  `json:"timestampSeconds"`
	Polarity         Polarity `json:"polarity"`
	Dimension        string   `json:"dimension"`
	Description      string   `json:"description"`
	Quote            string   `json:"quote"`
}

// ComplianceIssue records a regulatory-adherence finding.
type ComplianceIssue struct {
	Severity            Severity `json:"severity"`
	Dimension           string   `json:"dimension"`
	Description         string   `json:"description"`
	RegulatoryReference string   `json:"regulatoryReference,omitempty"`
	TimestampSeconds    *float64 `json:"timestampSeconds,omitempty"`
	Remediation         string   `json:"remediation,omitempty"`
}

// Outcome captures how the call ended.
type Outcome struct {
	Resolved          bool   `json:"resolved"`
	Escalated         bool   `json:"escalated"`
	FollowUpRequired  bool   `json:"followUpRequired"`
	CustomerSentiment string `json:"customerSentiment,omitempty"`
}

// Analysis is the full evaluation for one call. Written once, after quote
// validation; never partially persisted.
type Analysis struct {
	CallID           string            `json:"callId"`
	Scores           DimensionScores   `json:"scores"`
	OverallScore     float64           `json:"overallScore"`
	KeyMoments       []KeyMoment       `json:"keyMoments"`
	ComplianceIssues []ComplianceIssue `json:"complianceIssues"`
	Coaching         []string          `json:"coaching,omitempty"`
	Summary          string            `json:"summary"`
	Outcome          Outcome           `json:"outcome"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// ComplianceScore averages the applicable compliance dimensions, skipping
// nil entries. ok is false when no compliance dimension was scored.
func (a Analysis) ComplianceScore() (float64, bool) {
	var sum float64
	var n int
	for _, s := range a.Scores.ComplianceDimensions() {
		if s == nil {
			continue
		}
		sum += *s
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// CallType derives a coarse label from which compliance dimensions applied.
func (a Analysis) CallType() string {
	if a.Scores.CoolingOffDisclosure != nil || a.Scores.PricingTransparency != nil {
		return "sales"
	}
	if a.Scores.DPAVerification != nil {
		return "account"
	}
	return "general"
}
