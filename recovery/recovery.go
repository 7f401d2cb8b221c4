// Package recovery implements the Error Recovery Coordinator (C10): a
// typed error taxonomy mapped to recovery strategies. Grounded (taxonomy
// shape only) on the Rust original's recording/error_handling.rs and
// diarization/error_recovery.rs, expressed as small concrete Go types
// rather than a deep hierarchy, matching the teacher's preference for
// concrete structs over abstraction layers.
package recovery

import "time"

// Kind is an error category, not a concrete error type, per §4.10.
type Kind string

const (
	KindAutoSaveParameter       Kind = "auto_save_parameter"
	KindFFmpegNotFound          Kind = "ffmpeg_not_found"
	KindMeetingFolder           Kind = "meeting_folder"
	KindCheckpointDirCreation   Kind = "checkpoint_directory_creation"
	KindCheckpointChunkWrite    Kind = "checkpoint_chunk_write"
	KindCheckpointChunkRead     Kind = "checkpoint_chunk_read"
	KindCheckpointCleanup       Kind = "checkpoint_cleanup"
	KindCheckpointValidation    Kind = "checkpoint_validation"
	KindMerging                 Kind = "merging"
	KindPipelineInitialization  Kind = "pipeline_initialization"
	KindPreference              Kind = "preference"
	KindInsufficientDiskSpace   Kind = "insufficient_disk_space"
	KindPermissionDenied        Kind = "permission_denied"
	KindAudioSystem             Kind = "audio_system"
	KindTranscription           Kind = "transcription"
	KindConfiguration           Kind = "configuration"
)

// Error carries a context string, structured fields and its Kind.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Context
}

func (e *Error) Unwrap() error { return e.Err }

// Strategy is the recovery action a Kind maps to. Modeled as small
// concrete structs rather than an interface hierarchy; Coordinator.Resolve
// returns the one applicable strategy for a Kind.
type Strategy struct {
	AutoRetry           *AutoRetry
	GracefulDegradation *GracefulDegradation
	AlternativeApproach *AlternativeApproach
	UserIntervention    *UserIntervention
	SystemRepair        *SystemRepair
	FailOperation       *FailOperation
}

type AutoRetry struct {
	MaxAttempts       int
	Delay             time.Duration
	ExponentialBackoff bool
}

type GracefulDegradation struct {
	PreserveTranscripts bool
	NotifyUser          bool
	FallbackMessage     string
}

type AlternativeApproach struct {
	Alternatives []string
	TryAll       bool
}

type UserIntervention struct {
	Actions            []string
	Guidance           string
	CanContinueWithout bool
}

type SystemRepair struct {
	RepairActions []string
	Backup        bool
	ValidateAfter bool
}

type FailOperation struct {
	PreservePartialData bool
	CleanupRequired     bool
}

// Coordinator maps error kinds to their default recovery strategy per the
// policy table in §7.
type Coordinator struct{}

// NewCoordinator returns a Coordinator using the default policy table.
func NewCoordinator() *Coordinator { return &Coordinator{} }

// Resolve returns the default recovery strategy for a Kind.
func (c *Coordinator) Resolve(kind Kind) Strategy {
	switch kind {
	case KindAutoSaveParameter:
		return Strategy{SystemRepair: &SystemRepair{RepairActions: []string{"restore_traced_value"}, ValidateAfter: true}}
	case KindFFmpegNotFound:
		return Strategy{UserIntervention: &UserIntervention{
			Actions:            []string{"install_ffmpeg"},
			Guidance:           "install ffmpeg for this platform; transcripts will continue without an MP4 artifact",
			CanContinueWithout: true,
		}}
	case KindMeetingFolder:
		return Strategy{AlternativeApproach: &AlternativeApproach{
			Alternatives: []string{"documents", "desktop", "home", "temp", "current"},
			TryAll:       true,
		}}
	case KindCheckpointDirCreation:
		return Strategy{AlternativeApproach: &AlternativeApproach{
			Alternatives: []string{"documents", "desktop", "home", "temp", "current"},
			TryAll:       true,
		}}
	case KindCheckpointChunkWrite:
		return Strategy{GracefulDegradation: &GracefulDegradation{
			PreserveTranscripts: true,
			NotifyUser:          true,
			FallbackMessage:     "audio recording stopped; transcription continues",
		}}
	case KindCheckpointChunkRead, KindCheckpointValidation:
		return Strategy{AutoRetry: &AutoRetry{MaxAttempts: 3, Delay: 200 * time.Millisecond, ExponentialBackoff: true}}
	case KindMerging:
		return Strategy{AlternativeApproach: &AlternativeApproach{
			Alternatives: []string{"concat_demuxer_safe_mode", "concat_protocol"},
			TryAll:       true,
		}}
	case KindInsufficientDiskSpace:
		return Strategy{UserIntervention: &UserIntervention{
			Actions:  []string{"free_disk_space", "choose_different_save_folder"},
			Guidance: "free up disk space or choose a different save folder",
		}}
	case KindPermissionDenied:
		return Strategy{AlternativeApproach: &AlternativeApproach{Alternatives: []string{"documents", "desktop", "home", "temp"}}}
	case KindAudioSystem:
		return Strategy{AutoRetry: &AutoRetry{MaxAttempts: 3, Delay: 500 * time.Millisecond, ExponentialBackoff: true}}
	case KindTranscription:
		return Strategy{AlternativeApproach: &AlternativeApproach{Alternatives: []string{"local_model"}}}
	default:
		return Strategy{GracefulDegradation: &GracefulDegradation{NotifyUser: true}}
	}
}

// BackoffDelay computes base*2^attempt for an AutoRetry strategy.
func (r *AutoRetry) BackoffDelay(attempt int) time.Duration {
	if !r.ExponentialBackoff {
		return r.Delay
	}
	d := r.Delay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}
