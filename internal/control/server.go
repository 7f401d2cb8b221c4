// Package control implements the daemon's control surface: a
// hand-written gRPC Control service over a JSON codec (unix socket or
// Windows named pipe) plus a gorilla/websocket event feed, both driven
// by one processMessage dispatcher — the same dual-transport shape the
// teacher uses in internal/api/server.go.
package control

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"path/filepath"

	"durablemeet/devices"
	"durablemeet/diagnostics"
	"durablemeet/diarization"
	"durablemeet/identify"
	"durablemeet/mixer"
	"durablemeet/preferences"
	"durablemeet/recording"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type sendFunc func(Message) error

type transportClient interface {
	Send(Message) error
	Close() error
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) Close() error { return c.conn.Close() }

type grpcClient struct {
	stream Control_StreamServer
	mu     sync.Mutex
}

func (c *grpcClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&msg)
}

func (c *grpcClient) Close() error { return nil }

// Server is the daemon-side implementation of ControlServer and the
// websocket event feed. It holds no business logic of its own; every
// request is forwarded to the recording.Manager/preferences.Store/
// identify.Mapper it wraps.
type Server struct {
	HTTPAddr string
	GRPCAddr string

	Manager     *recording.Manager
	Registry    *devices.Registry
	Prefs       *preferences.Store
	Mapper      *identify.Mapper
	Store       *identify.Store
	Diarizer    *diarization.Diarizer
	SaveFolder  string

	clients map[transportClient]bool
	mu      sync.Mutex

	segMu   sync.Mutex
	segBuf  []mixer.SpeechSegment
}

// NewServer wires a control surface around an already-constructed
// recording manager and its collaborators. store and diarizer may be nil,
// in which case sessions are recorded without speaker diarization.
func NewServer(httpAddr, grpcAddr string, mgr *recording.Manager, registry *devices.Registry, prefs *preferences.Store, mapper *identify.Mapper, store *identify.Store, diarizer *diarization.Diarizer, saveFolder string) *Server {
	return &Server{
		HTTPAddr:   httpAddr,
		GRPCAddr:   grpcAddr,
		Manager:    mgr,
		Registry:   registry,
		Prefs:      prefs,
		Mapper:     mapper,
		Store:      store,
		Diarizer:   diarizer,
		SaveFolder: saveFolder,
		clients:    make(map[transportClient]bool),
	}
}

// Start launches the websocket HTTP listener and the gRPC listener,
// and begins relaying recorder events to every connected client. It
// blocks serving HTTP on the calling goroutine, matching the teacher's
// Server.Start.
func (s *Server) Start() {
	go s.startGRPCServer()
	go s.relayRecorderEvents()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	log.Printf("control surface listening on HTTP %s and gRPC %s", s.HTTPAddr, s.GRPCAddr)
	if err := http.ListenAndServe(s.HTTPAddr, mux); err != nil {
		log.Printf("control HTTP server stopped: %v", err)
	}
}

func (s *Server) relayRecorderEvents() {
	events := s.Manager.Events()
	if events == nil {
		return
	}
	for evt := range events {
		s.broadcast(Message{
			Type:           evt.Kind,
			AudioFile:      evt.AudioFile,
			TranscriptFile: evt.TranscriptFile,
			MeetingName:    evt.MeetingName,
			MeetingFolder:  evt.MeetingFolder,
		})
	}
}

// PublishDeviceEvent pushes a device-event onto every connected client;
// the daemon entrypoint calls it for each event read from
// recording.Manager.DeviceEvents.
func (s *Server) PublishDeviceEvent(evt recording.DeviceEvent, slot recording.Slot) {
	kind := "reconnected"
	if evt.Type == recording.EventDisconnected {
		kind = "disconnected"
	}
	slotName := "mic"
	if slot == recording.SlotSystem {
		slotName = "system"
	}
	s.broadcast(Message{
		Type:       "device-event",
		Status:     kind,
		DeviceName: evt.Name,
		DeviceKind: string(evt.Kind),
		DeviceSlot: slotName,
	})
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	targets := make([]transportClient, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			log.Printf("control: send error: %v", err)
			s.removeClient(c)
		}
	}
}

func (s *Server) addClient(c transportClient) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
}

func (s *Server) removeClient(c transportClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control: websocket upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn}
	s.addClient(client)
	defer s.removeClient(client)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		s.processMessage(client.Send, msg)
	}
}

// Stream implements the gRPC bidirectional stream, mirroring the
// websocket loop above.
func (s *Server) Stream(stream Control_StreamServer) error {
	client := &grpcClient{stream: stream}
	s.addClient(client)
	defer s.removeClient(client)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if msg == nil {
			continue
		}
		s.processMessage(client.Send, *msg)
	}
}

func (s *Server) processMessage(send sendFunc, msg Message) {
	switch msg.Type {
	case "get_devices":
		s.handleGetDevices(send)
	case "start":
		s.handleStart(send, msg)
	case "start_with_defaults":
		s.handleStartWithDefaults(send, msg)
	case "pause":
		s.Manager.Pause()
		send(Message{Type: "status", Status: "paused"})
	case "resume":
		s.Manager.Resume()
		send(Message{Type: "status", Status: "recording"})
	case "stop":
		s.handleStop(send)
	case "save_only":
		s.handleSaveOnly(send)
	case "diagnose":
		s.handleDiagnose(send, msg)
	case "manual_correct":
		s.handleManualCorrect(send, msg)
	case "merge_labels":
		s.handleMergeLabels(send, msg)
	default:
		send(Message{Type: "error", Error: "unknown message type: " + msg.Type})
	}
}

func (s *Server) handleGetDevices(send sendFunc) {
	all, err := s.Registry.List()
	if err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	out := make([]DeviceInfo, len(all))
	for i, d := range all {
		out[i] = DeviceInfo{Name: d.Name, Kind: string(d.Kind), Friendly: d.Friendly}
	}
	send(Message{Type: "devices", Devices: out})
}

func (s *Server) handleStart(send sendFunc, msg Message) {
	autoSave := s.tracedAutoSave(msg.AutoSave)
	segments, err := s.Manager.Start(msg.MicDevice, msg.SystemDevice, autoSave)
	if err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	s.beginSpeechSegmentCapture(segments)
	send(Message{Type: "status", Status: "recording"})
}

func (s *Server) handleStartWithDefaults(send sendFunc, msg Message) {
	autoSave := s.tracedAutoSave(msg.AutoSave)
	segments, err := s.Manager.StartWithDefaults(autoSave)
	if err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	s.beginSpeechSegmentCapture(segments)
	send(Message{Type: "status", Status: "recording"})
}

// beginSpeechSegmentCapture resets the per-meeting buffer and starts
// draining the mixing pipeline's VAD-gated segments into it, for the
// diarization pass run once the meeting is finalized.
func (s *Server) beginSpeechSegmentCapture(segments <-chan mixer.SpeechSegment) {
	s.segMu.Lock()
	s.segBuf = nil
	s.segMu.Unlock()

	go func() {
		for seg := range segments {
			s.segMu.Lock()
			s.segBuf = append(s.segBuf, seg)
			s.segMu.Unlock()
		}
	}()
}

// runDiarization concatenates the captured meeting's speech segments into
// one buffer, clusters speakers across it, persists the resulting
// segments, and hands them to the identification mapper. Errors are
// logged, not surfaced: diarization is a best-effort enrichment of an
// already-saved recording, never a reason to fail the save.
func (s *Server) runDiarization(ctx context.Context, meetingID string) {
	if s.Diarizer == nil {
		return
	}
	s.segMu.Lock()
	segments := s.segBuf
	s.segBuf = nil
	s.segMu.Unlock()
	if len(segments) == 0 {
		return
	}

	var samples []float32
	bounds := make([]diarization.SegmentBound, len(segments))
	sequenceByStart := make(map[float64]uint64, len(segments))
	offsetS := 0.0
	for i, seg := range segments {
		durS := float64(len(seg.PCM)) / 16000.0
		bounds[i] = diarization.SegmentBound{StartS: offsetS, EndS: offsetS + durS}
		sequenceByStart[offsetS] = seg.SequenceID
		samples = append(samples, seg.PCM...)
		offsetS += durS
	}

	speakerSegments, err := s.Diarizer.Diarize(bounds, samples)
	if err != nil {
		log.Printf("control: diarization failed for %s: %v", meetingID, err)
		return
	}

	inputs := make([]identify.SegmentInput, 0, len(speakerSegments))
	for _, seg := range speakerSegments {
		if s.Store != nil {
			if err := s.Store.InsertSegment(meetingID, seg.SpeakerLabel, seg.StartS, seg.EndS, sequenceByStart[seg.StartS]); err != nil {
				log.Printf("control: failed to persist speaker segment for %s: %v", meetingID, err)
			}
		}
		inputs = append(inputs, identify.SegmentInput{Label: seg.SpeakerLabel, EmbeddingHash: seg.EmbeddingHash})
	}

	if s.Mapper != nil {
		if err := s.Mapper.IdentifySpeakers(ctx, meetingID, inputs); err != nil {
			log.Printf("control: speaker identification failed for %s: %v", meetingID, err)
		}
	}
}

// tracedAutoSave implements the §4.8 parameter-integrity rule: the
// value the manager acts on is the one traced from preferences, not
// necessarily the one the caller passed, and a mismatch is logged.
func (s *Server) tracedAutoSave(received bool) bool {
	if s.Prefs == nil {
		return received
	}
	traced := s.Prefs.Load().AutoSave
	if traced != received {
		log.Printf("control: auto_save override detected (received=%v, traced=%v); using traced value", received, traced)
	}
	return traced
}

func (s *Server) handleStop(send sendFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	folder, err := s.Manager.StopRecording(ctx)
	if err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	s.runDiarization(ctx, filepath.Base(folder))
	send(Message{Type: "status", Status: "idle", MeetingFolder: folder})
}

func (s *Server) handleSaveOnly(send sendFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	folder, err := s.Manager.SaveRecordingOnly(ctx)
	if err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	s.runDiarization(ctx, filepath.Base(folder))
	send(Message{Type: "status", Status: "saved", MeetingFolder: folder})
}

func (s *Server) handleDiagnose(send sendFunc, msg Message) {
	saveFolder := msg.SaveFolder
	if saveFolder == "" {
		saveFolder = s.SaveFolder
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	report := diagnostics.Run(ctx, s.Prefs, saveFolder)
	send(Message{Type: "diagnostic_report", Report: &Diagnostic{
		AutoSaveStatus:   string(report.AutoSaveStatus),
		PreferenceStatus: string(report.PreferenceStatus),
		PipelineStatus:   string(report.PipelineStatus),
		DependencyStatus: string(report.DependencyStatus),
		FilesystemStatus: string(report.FilesystemStatus),
		Healthy:          report.IsHealthy(),
		Recommendations:  recommendationStrings(report.Recommendations),
		FallbackFolders:  report.FallbackLocations,
	}})
}

func recommendationStrings(recs []diagnostics.FixRecommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Description
	}
	return out
}

func (s *Server) handleManualCorrect(send sendFunc, msg Message) {
	if s.Mapper == nil {
		send(Message{Type: "error", Error: "identification is not configured"})
		return
	}
	if err := s.Mapper.ManualCorrect(msg.MeetingID, msg.FromLabel, msg.SpeakerName); err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	send(Message{Type: "status", Status: "corrected"})
}

func (s *Server) handleMergeLabels(send sendFunc, msg Message) {
	if s.Mapper == nil {
		send(Message{Type: "error", Error: "identification is not configured"})
		return
	}
	if err := s.Mapper.MergeLabels(msg.MeetingID, msg.FromLabel, msg.ToLabel); err != nil {
		send(Message{Type: "error", Error: err.Error()})
		return
	}
	send(Message{Type: "status", Status: "merged"})
}

func (s *Server) startGRPCServer() {
	addr := s.GRPCAddr
	if addr == "" {
		if runtime.GOOS == "windows" {
			addr = `npipe:\\.\pipe\durablemeet-grpc`
		} else {
			addr = "unix:///tmp/durablemeet-grpc.sock"
		}
	}

	lis, err := listenGRPC(addr)
	if err != nil {
		log.Printf("control: failed to start gRPC listener (%s): %v", addr, err)
		return
	}

	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterControlServer(server, s)

	log.Printf("control: gRPC listening on %s", addr)
	if err := server.Serve(lis); err != nil {
		log.Printf("control: gRPC server stopped: %v", err)
	}
}

func listenGRPC(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		socketPath := strings.TrimPrefix(addr, "unix:")
		socketPath = strings.TrimPrefix(socketPath, "//")
		if err := removeIfExists(socketPath); err != nil {
			return nil, err
		}
		return net.Listen("unix", socketPath)
	case strings.HasPrefix(addr, "npipe:"):
		return listenPipe(strings.TrimPrefix(addr, "npipe:"))
	default:
		return net.Listen("tcp", addr)
	}
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
