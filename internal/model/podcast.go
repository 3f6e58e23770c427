package model

import "time"

type DurationBucket string

const (
	DurationShort    DurationBucket = "SHORT"
	DurationMedium   DurationBucket = "MEDIUM"
	DurationLong     DurationBucket = "LONG"
	DurationExtended DurationBucket = "EXTENDED"
)

// DurationBucketFor maps a requested minute count to its bucket (spec.md §3).
func DurationBucketFor(minutes int) DurationBucket {
	switch {
	case minutes <= 5:
		return DurationShort
	case minutes <= 15:
		return DurationMedium
	case minutes <= 30:
		return DurationLong
	default:
		return DurationExtended
	}
}

// Minutes returns the nominal length of a bucket.
func (b DurationBucket) Minutes() int {
	switch b {
	case DurationShort:
		return 5
	case DurationMedium:
		return 15
	case DurationLong:
		return 30
	case DurationExtended:
		return 60
	default:
		return 15
	}
}

// TopKRetrieval scales retrieval breadth to the duration bucket (spec.md §4.11).
func (b DurationBucket) TopKRetrieval() int {
	switch b {
	case DurationShort:
		return 30
	case DurationMedium:
		return 50
	case DurationLong:
		return 75
	case DurationExtended:
		return 100
	default:
		return 50
	}
}

type PodcastFormat string

const (
	FormatMP3  PodcastFormat = "mp3"
	FormatWAV  PodcastFormat = "wav"
	FormatOGG  PodcastFormat = "ogg"
	FormatFLAC PodcastFormat = "flac"
)

type PodcastStatus string

const (
	PodcastQueued     PodcastStatus = "QUEUED"
	PodcastGenerating PodcastStatus = "GENERATING"
	PodcastCompleted  PodcastStatus = "COMPLETED"
	PodcastFailed     PodcastStatus = "FAILED"
	PodcastCancelled  PodcastStatus = "CANCELLED"
)

// PodcastStep names the GENERATING sub-stage, used for progress reporting.
type PodcastStep string

const (
	StepRetrieval PodcastStep = "retrieval"
	StepScript    PodcastStep = "script"
	StepParse     PodcastStep = "parse"
	StepAudio     PodcastStep = "audio"
	StepStore     PodcastStep = "store"
)

// PodcastJob is exclusively owned by its user. Status is monotonic;
// ProgressPct is non-decreasing. Invariants: Status==COMPLETED implies
// AudioURL set; Status==FAILED implies Error set and any partial audio
// artifact released.
type PodcastJob struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	CollectionID   string         `json:"collectionId"`
	Title          string         `json:"title"`
	DurationBucket DurationBucket `json:"durationBucket"`
	HostVoice      string         `json:"hostVoice"`
	ExpertVoice    string         `json:"expertVoice"`
	Format         PodcastFormat  `json:"format"`
	Status         PodcastStatus  `json:"status"`
	ProgressPct    int            `json:"progressPct"`
	CurrentStep    PodcastStep    `json:"currentStep,omitempty"`
	AudioURL       string         `json:"audioUrl,omitempty"`
	AudioSize      int64          `json:"audioSize,omitempty"`
	Transcript     string         `json:"transcript,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// ScriptTurn is a single parsed dialogue turn (spec.md §4.11/§6).
type ScriptSpeaker string

const (
	SpeakerHost   ScriptSpeaker = "HOST"
	SpeakerExpert ScriptSpeaker = "EXPERT"
)

type ScriptTurn struct {
	Speaker ScriptSpeaker `json:"speaker"`
	Text    string        `json:"text"`
}

type VoiceStatus string

const (
	VoiceUploading VoiceStatus = "UPLOADING"
	VoiceProcessing VoiceStatus = "PROCESSING"
	VoiceReady     VoiceStatus = "READY"
	VoiceFailed    VoiceStatus = "FAILED"
)

// Voice is owned per-user; only status=READY voices may be referenced in a job.
type Voice struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	Name            string      `json:"name"`
	Status          VoiceStatus `json:"status"`
	ProviderName    string      `json:"providerName"`
	ProviderVoiceID string      `json:"providerVoiceId,omitempty"`
	SampleRef       string      `json:"sampleRef"`
	TimesUsed       int         `json:"timesUsed"`
	QualityScore    *float64    `json:"qualityScore,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}
