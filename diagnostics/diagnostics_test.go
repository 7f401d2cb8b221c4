package diagnostics

import "testing"

func TestTraceAutoSaveDetectsOverride(t *testing.T) {
	trace := TraceAutoSave(true, false, false)
	if trace.IsPropagatedCorrectly() {
		t.Fatal("expected override detected when manager receives false after true preference")
	}
}

func TestTraceAutoSaveCleanPath(t *testing.T) {
	trace := TraceAutoSave(true, true, true)
	if !trace.IsPropagatedCorrectly() {
		t.Fatal("expected clean propagation when all boundaries agree")
	}
}

func TestTraceAutoSaveFalseToFalseIsNotAnOverride(t *testing.T) {
	trace := TraceAutoSave(false, false, false)
	if !trace.IsPropagatedCorrectly() {
		t.Fatal("false->false is not a reduction, should not count as override")
	}
}

func TestReportIsHealthyRequiresAllOK(t *testing.T) {
	r := Report{
		AutoSaveStatus:   AutoSaveOK,
		PreferenceStatus: PreferenceOK,
		PipelineStatus:   PipelineOK,
		DependencyStatus: DependencyMissing,
		FilesystemStatus: FilesystemOK,
	}
	if r.IsHealthy() {
		t.Fatal("expected unhealthy report when dependency status is not ok")
	}
}
