package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

type JobType string

const (
	JobTypeClassification JobType = "classification"
	JobTypeGeneration     JobType = "generation"
	JobTypeRetryRooms     JobType = "retry_rooms"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

type ProjectStatus string

const (
	ProjectStatusDraft           ProjectStatus = "draft"
	ProjectStatusClassifying     ProjectStatus = "classifying"
	ProjectStatusClassified      ProjectStatus = "classified"
	ProjectStatusProcessingRooms ProjectStatus = "processing_rooms"
	ProjectStatusComposingVideo  ProjectStatus = "composing_video"
	ProjectStatusCompleted       ProjectStatus = "completed"
	ProjectStatusFailed          ProjectStatus = "failed"
)

// ImageStatus moves pending -> uploading -> uploaded -> analyzing -> analyzed, or to error.
type ImageStatus string

const (
	ImageStatusPending   ImageStatus = "pending"
	ImageStatusUploading ImageStatus = "uploading"
	ImageStatusUploaded  ImageStatus = "uploaded"
	ImageStatusAnalyzing ImageStatus = "analyzing"
	ImageStatusAnalyzed  ImageStatus = "analyzed"
	ImageStatusError     ImageStatus = "error"
)

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

type ClassificationPhase string

const (
	PhaseUploading    ClassificationPhase = "uploading"
	PhaseAnalyzing    ClassificationPhase = "analyzing"
	PhaseCategorizing ClassificationPhase = "categorizing"
	PhaseComplete     ClassificationPhase = "complete"
	PhaseError        ClassificationPhase = "error"
)

type GenerationStatus string

const (
	GenerationStatusProcessingRooms GenerationStatus = "processing_rooms"
	GenerationStatusComposingVideo  GenerationStatus = "composing_video"
	GenerationStatusCompleted       GenerationStatus = "completed"
	GenerationStatusFailed          GenerationStatus = "failed"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

type LogoPosition string

const (
	LogoTopLeft     LogoPosition = "top-left"
	LogoTopRight    LogoPosition = "top-right"
	LogoBottomLeft  LogoPosition = "bottom-left"
	LogoBottomRight LogoPosition = "bottom-right"
)

func (p LogoPosition) Valid() bool {
	switch p {
	case LogoTopLeft, LogoTopRight, LogoBottomLeft, LogoBottomRight:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)
