package control

// Message is the single wire shape carried over both transports: the
// websocket event feed and the gRPC Control stream. Mirroring the
// teacher's api.Message, one struct serves every request and event
// rather than a sum type, keeping the JSON codec trivial on both ends.
type Message struct {
	Type string `json:"type"`

	// start/start_with_defaults request fields
	MicDevice    string `json:"micDevice,omitempty"`
	SystemDevice string `json:"systemDevice,omitempty"`
	AutoSave     bool   `json:"autoSave,omitempty"`

	// diagnose request / response
	SaveFolder string `json:"saveFolder,omitempty"`
	Report     *Diagnostic `json:"report,omitempty"`

	// manual_correct / merge_labels request fields
	MeetingID   string `json:"meetingId,omitempty"`
	FromLabel   string `json:"fromLabel,omitempty"`
	ToLabel     string `json:"toLabel,omitempty"`
	SpeakerName string `json:"speakerName,omitempty"`

	// recording-saved event
	AudioFile      string `json:"audioFile,omitempty"`
	TranscriptFile string `json:"transcriptFile,omitempty"`
	MeetingName    string `json:"meetingName,omitempty"`
	MeetingFolder  string `json:"meetingFolder,omitempty"`

	// device-event
	DeviceName string `json:"deviceName,omitempty"`
	DeviceKind string `json:"deviceKind,omitempty"`
	DeviceSlot string `json:"deviceSlot,omitempty"`

	// audio-level ticks
	MicLevel    float64 `json:"micLevel,omitempty"`
	SystemLevel float64 `json:"systemLevel,omitempty"`

	// get_devices response
	Devices []DeviceInfo `json:"devices,omitempty"`

	// generic status/error
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Diagnostic is the wire projection of diagnostics.Report.
type Diagnostic struct {
	AutoSaveStatus   string   `json:"autoSaveStatus"`
	PreferenceStatus string   `json:"preferenceStatus"`
	PipelineStatus   string   `json:"pipelineStatus"`
	DependencyStatus string   `json:"dependencyStatus"`
	FilesystemStatus string   `json:"filesystemStatus"`
	Healthy          bool     `json:"healthy"`
	Recommendations  []string `json:"recommendations,omitempty"`
	FallbackFolders  []string `json:"fallbackFolders,omitempty"`
}

// DeviceInfo is the wire projection of devices.Device.
type DeviceInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Friendly string `json:"friendly"`
}
