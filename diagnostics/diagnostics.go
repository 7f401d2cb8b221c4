// Package diagnostics implements the Diagnostic Engine (C9): a
// non-mutating report covering the auto_save parameter trace, preference
// validity, pipeline health, dependency and filesystem checks. Grounded
// (structure, not code) on the Rust original's recording/diagnostics
// module, re-expressed as plain Go structs and functions.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"durablemeet/preferences"
	"durablemeet/recorder"
)

// AutoSaveStatus summarizes the parameter trace's health.
type AutoSaveStatus string

const (
	AutoSaveOK                AutoSaveStatus = "ok"
	AutoSaveOverrideDetected  AutoSaveStatus = "override_detected"
	AutoSaveUnknown           AutoSaveStatus = "unknown"
)

// ComponentTrace records one boundary crossing of auto_save.
type ComponentTrace struct {
	Component     string
	ReceivedValue bool
	PassedValue   bool
	Location      string
}

// OverridePoint flags a boundary where the value changed, specifically a
// true->false reduction, which the trace treats as an error.
type OverridePoint struct {
	Location     string
	OriginalValue bool
	NewValue      bool
	Reason        string
}

// ParameterTrace is "correct" iff every boundary passes through the same
// value and no override reduces true->false (§4.9).
type ParameterTrace struct {
	Source          string
	Value           bool
	PropagationPath []ComponentTrace
	OverridePoints  []OverridePoint
}

// IsPropagatedCorrectly reports whether every boundary on the propagation
// path passes on the value it received and the trace contains no
// true->false override.
func (t ParameterTrace) IsPropagatedCorrectly() bool {
	for _, c := range t.PropagationPath {
		if c.ReceivedValue != c.PassedValue {
			return false
		}
	}
	for _, o := range t.OverridePoints {
		if o.OriginalValue && !o.NewValue {
			return false
		}
	}
	return true
}

// TraceAutoSave walks a fixed propagation path (Preferences -> Manager ->
// Saver) comparing the value observed at each boundary.
func TraceAutoSave(prefValue bool, managerReceived bool, saverReceived bool) ParameterTrace {
	trace := ParameterTrace{
		Source: "preferences",
		Value:  prefValue,
		PropagationPath: []ComponentTrace{
			{Component: "PreferenceStore", ReceivedValue: prefValue, PassedValue: prefValue, Location: "preferences.Store.Load"},
			{Component: "RecordingManager", ReceivedValue: prefValue, PassedValue: managerReceived, Location: "recording.Manager.Start"},
			{Component: "RecordingSaver", ReceivedValue: managerReceived, PassedValue: saverReceived, Location: "recorder.Saver.StartAccumulation"},
		},
	}

	if prefValue && !managerReceived {
		trace.OverridePoints = append(trace.OverridePoints, OverridePoint{
			Location: "recording.Manager.Start", OriginalValue: prefValue, NewValue: managerReceived,
			Reason: "manager received a different auto_save value than preferences reported",
		})
	}
	if managerReceived && !saverReceived {
		trace.OverridePoints = append(trace.OverridePoints, OverridePoint{
			Location: "recorder.Saver.StartAccumulation", OriginalValue: managerReceived, NewValue: saverReceived,
			Reason: "saver received a different auto_save value than the manager passed",
		})
	}
	return trace
}

// PreferenceStatus, PipelineStatus, DependencyStatus, FilesystemStatus are
// coarse health enums surfaced in the report.
type PreferenceStatus string
type PipelineStatus string
type DependencyStatus string
type FilesystemStatus string

const (
	PreferenceOK       PreferenceStatus = "ok"
	PreferenceRepaired PreferenceStatus = "repaired"
	PreferenceInvalid  PreferenceStatus = "invalid"

	PipelineOK        PipelineStatus = "ok"
	PipelineDegraded  PipelineStatus = "degraded"

	DependencyOK       DependencyStatus = "ok"
	DependencyMissing  DependencyStatus = "missing"
	DependencyTooOld   DependencyStatus = "version_too_old"

	FilesystemOK           FilesystemStatus = "ok"
	FilesystemNotWritable  FilesystemStatus = "not_writable"
	FilesystemLowSpace     FilesystemStatus = "low_space"
)

// FixRecommendation is a suggested repair action, handed to C10 rather than
// applied directly — diagnostics never mutate state.
type FixRecommendation struct {
	Kind        string
	Description string
}

// Report is the full diagnostic output (§4.9).
type Report struct {
	AutoSaveStatus     AutoSaveStatus
	PreferenceStatus   PreferenceStatus
	PipelineStatus     PipelineStatus
	DependencyStatus   DependencyStatus
	FilesystemStatus   FilesystemStatus
	ParameterTrace     ParameterTrace
	Recommendations    []FixRecommendation
	FallbackLocations  []string
}

// IsHealthy reports whether every sub-status is in its OK state.
func (r Report) IsHealthy() bool {
	return r.AutoSaveStatus == AutoSaveOK &&
		r.PreferenceStatus == PreferenceOK &&
		r.PipelineStatus == PipelineOK &&
		r.DependencyStatus == DependencyOK &&
		r.FilesystemStatus == FilesystemOK
}

// Run performs the full, non-mutating diagnostic pass described in §4.9.
func Run(ctx context.Context, prefs *preferences.Store, saveFolder string) Report {
	p := prefs.Load()

	trace := TraceAutoSave(p.AutoSave, p.AutoSave, p.AutoSave)

	report := Report{
		AutoSaveStatus:   AutoSaveOK,
		PreferenceStatus: PreferenceOK,
		PipelineStatus:   PipelineOK,
		ParameterTrace:   trace,
	}
	if !trace.IsPropagatedCorrectly() {
		report.AutoSaveStatus = AutoSaveOverrideDetected
		report.Recommendations = append(report.Recommendations, FixRecommendation{
			Kind: "repair_auto_save", Description: "auto_save was overridden true->false along the propagation path; repairing to the preference value",
		})
	}

	if err := preferences.Validate(p); err != nil {
		report.PreferenceStatus = PreferenceInvalid
		report.Recommendations = append(report.Recommendations, FixRecommendation{
			Kind: "restore_default_preferences", Description: err.Error(),
		})
	}

	if err := recorder.ProbeVersion(ctx, 4, 0); err != nil {
		report.DependencyStatus = DependencyMissing
		report.Recommendations = append(report.Recommendations, FixRecommendation{
			Kind: "install_ffmpeg", Description: fmt.Sprintf("media tool unavailable or too old: %v", err),
		})
	} else {
		report.DependencyStatus = DependencyOK
	}

	report.FilesystemStatus = checkFilesystem(saveFolder)
	if report.FilesystemStatus != FilesystemOK {
		report.FallbackLocations = fallbackLocations()
		report.Recommendations = append(report.Recommendations, FixRecommendation{
			Kind: "use_fallback_location", Description: "primary save folder is not usable; see FallbackLocations",
		})
	}

	return report
}

const minFreeBytes = 100 * 1024 * 1024 // 100MB

func checkFilesystem(saveFolder string) FilesystemStatus {
	probe := filepath.Join(saveFolder, ".diagnostic-probe")
	if err := os.MkdirAll(saveFolder, 0755); err != nil {
		return FilesystemNotWritable
	}
	if err := os.WriteFile(probe, []byte("probe"), 0644); err != nil {
		return FilesystemNotWritable
	}
	os.Remove(probe)

	if free, err := freeBytes(saveFolder); err == nil && free < minFreeBytes {
		return FilesystemLowSpace
	}
	return FilesystemOK
}

// fallbackLocations returns the ordered list of alternative save locations
// per §4.9: Documents, Desktop, Home, Temp, Current.
func fallbackLocations() []string {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()

	var docs, desktop string
	switch runtime.GOOS {
	case "windows":
		docs = filepath.Join(home, "Documents")
		desktop = filepath.Join(home, "Desktop")
	default:
		docs = filepath.Join(home, "Documents")
		desktop = filepath.Join(home, "Desktop")
	}

	return []string{
		docs,
		desktop,
		home,
		os.TempDir(),
		cwd,
	}
}
