// Package audio wraps malgo device capture into the two raw streams C3
// needs: a microphone input and an optional system/loopback input,
// delivered on one channel tagged by source.
package audio

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// AudioDevice mirrors one malgo-enumerated device, normalized to the fields
// the device registry (C2) classifies on.
type AudioDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsInput  bool   `json:"isInput"`
	IsOutput bool   `json:"isOutput"`
}

// Channel identifies which physical source a ChannelData sample batch
// came from — the mic slot or the system/loopback slot.
type Channel int

const (
	ChannelMicrophone Channel = iota
	ChannelSystem
)

// ChannelData is one batch of mono float32 samples tagged by source.
type ChannelData struct {
	Channel Channel
	Samples []float32
}

// Capture owns up to two malgo device handles: the microphone and a
// system/loopback capture device (typically a BlackHole-style virtual
// audio device on macOS, a monitor source on PulseAudio/PipeWire, or a
// stereo mix device on Windows).
type Capture struct {
	ctx *malgo.AllocatedContext

	micDevice    *malgo.Device
	systemDevice *malgo.Device

	micDeviceID    *malgo.DeviceID
	systemDeviceID *malgo.DeviceID

	dataChan chan ChannelData
	mu       sync.Mutex
	running  bool

	captureSystem bool
}

func NewCapture() (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	return &Capture{
		ctx:      ctx,
		dataChan: make(chan ChannelData, 1000), // generous so a slow consumer never drops a frame silently
	}, nil
}

// ListDevices enumerates every capture-capable and playback-capable
// device malgo can see, merging entries that support both directions.
func (c *Capture) ListDevices() ([]AudioDevice, error) {
	var devices []AudioDevice

	captureDevices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	for _, dev := range captureDevices {
		devices = append(devices, AudioDevice{
			ID:      deviceIDToString(dev.ID),
			Name:    dev.Name(),
			IsInput: true,
		})
	}

	playbackDevices, err := c.ctx.Devices(malgo.Playback)
	if err != nil {
		log.Printf("Warning: failed to enumerate playback devices: %v", err)
	} else {
		for _, dev := range playbackDevices {
			name := dev.Name()
			found := false
			for i := range devices {
				if devices[i].Name == name {
					devices[i].IsOutput = true
					found = true
					break
				}
			}
			if !found {
				devices = append(devices, AudioDevice{ID: deviceIDToString(dev.ID), Name: name, IsOutput: true})
			}
		}
	}

	return devices, nil
}

// FindDeviceByName does a case-insensitive substring match for name
// within the given device direction.
func (c *Capture) FindDeviceByName(name string, deviceType malgo.DeviceType) (*malgo.DeviceID, error) {
	devices, err := c.ctx.Devices(deviceType)
	if err != nil {
		return nil, err
	}

	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// SetMicrophoneDevice selects the mic slot's device by its enumerated
// ID, or the platform default when deviceID is "" or "default".
func (c *Capture) SetMicrophoneDevice(deviceID string) error {
	if deviceID == "" || deviceID == "default" {
		c.micDeviceID = nil
		return nil
	}

	id, err := stringToDeviceID(deviceID)
	if err != nil {
		return err
	}
	c.micDeviceID = id
	return nil
}

// SetSystemDeviceByName selects the system slot's device by a
// substring match against its name, enabling system capture. An empty
// name disables system capture.
func (c *Capture) SetSystemDeviceByName(name string) error {
	if name == "" {
		c.systemDeviceID = nil
		c.captureSystem = false
		return nil
	}

	id, err := c.FindDeviceByName(name, malgo.Capture)
	if err != nil {
		return err
	}
	c.systemDeviceID = id
	c.captureSystem = true
	log.Printf("System audio device set: %s", name)
	return nil
}

// EnableSystemCapture toggles system-slot capture without changing the
// selected device.
func (c *Capture) EnableSystemCapture(enable bool) {
	c.captureSystem = enable
}

// Start opens the mic device and, if enabled, the system device, then
// begins delivering ChannelData on Data().
func (c *Capture) Start(deviceID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("already running")
	}

	if err := c.startMicrophoneCapture(); err != nil {
		return fmt.Errorf("start microphone capture: %w", err)
	}

	if c.captureSystem && c.systemDeviceID != nil {
		if err := c.startSystemCapture(); err != nil {
			log.Printf("Warning: failed to start system audio capture: %v", err)
		}
	}

	c.running = true
	return nil
}

func (c *Capture) startMicrophoneCapture() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = NativeSampleRateHz
	deviceConfig.Alsa.NoMMap = 1

	if c.micDeviceID != nil {
		deviceConfig.Capture.DeviceID = c.micDeviceID.Pointer()
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		sampleCount := int(framecount) * int(deviceConfig.Capture.Channels)
		if len(pInputSamples) != sampleCount*4 {
			return
		}

		samples := make([]float32, sampleCount)
		for i := 0; i < sampleCount; i++ {
			bits := uint32(pInputSamples[i*4]) | uint32(pInputSamples[i*4+1])<<8 | uint32(pInputSamples[i*4+2])<<16 | uint32(pInputSamples[i*4+3])<<24
			samples[i] = math.Float32frombits(bits)
		}

		// Block rather than drop: the ring buffer in capture.Manager owns
		// the overflow policy, not this callback.
		c.dataChan <- ChannelData{Channel: ChannelMicrophone, Samples: samples}
	}

	var err error
	c.micDevice, err = malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return err
	}
	if err := c.micDevice.Start(); err != nil {
		return err
	}

	log.Println("Microphone capture started")
	return nil
}

func (c *Capture) startSystemCapture() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 2 // loopback devices are typically stereo
	deviceConfig.SampleRate = NativeSampleRateHz
	deviceConfig.Alsa.NoMMap = 1

	if c.systemDeviceID != nil {
		deviceConfig.Capture.DeviceID = c.systemDeviceID.Pointer()
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		channels := int(deviceConfig.Capture.Channels)
		sampleCount := int(framecount) * channels
		if len(pInputSamples) != sampleCount*4 {
			return
		}

		monoSamples := make([]float32, int(framecount))
		for i := 0; i < int(framecount); i++ {
			var sum float32
			for ch := 0; ch < channels; ch++ {
				idx := (i*channels + ch) * 4
				bits := uint32(pInputSamples[idx]) | uint32(pInputSamples[idx+1])<<8 | uint32(pInputSamples[idx+2])<<16 | uint32(pInputSamples[idx+3])<<24
				sum += math.Float32frombits(bits)
			}
			monoSamples[i] = sum / float32(channels)
		}

		c.dataChan <- ChannelData{Channel: ChannelSystem, Samples: monoSamples}
	}

	var err error
	c.systemDevice, err = malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return err
	}
	if err := c.systemDevice.Start(); err != nil {
		return err
	}

	log.Println("System audio capture started")
	return nil
}

// NativeSampleRateHz is the rate both capture streams are opened at.
// It equals the mixer's 48kHz target rate, and opening both devices at
// the same native rate keeps them close enough
// in wall-clock terms for the jitter buffer to reconcile.
const NativeSampleRateHz = 48000

// Stop closes whichever device handles are open.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}

	if c.micDevice != nil {
		c.micDevice.Uninit()
		c.micDevice = nil
	}
	if c.systemDevice != nil {
		c.systemDevice.Uninit()
		c.systemDevice = nil
	}

	c.running = false
	log.Println("Audio capture stopped")
	return nil
}

// Data returns the channel both capture streams deliver tagged samples
// on.
func (c *Capture) Data() <-chan ChannelData {
	return c.dataChan
}

// ClearBuffers drains any samples queued before a fresh recording
// starts, so a new session never picks up stale audio.
func (c *Capture) ClearBuffers() {
	for {
		select {
		case <-c.dataChan:
		default:
			return
		}
	}
}

// IsSystemCaptureEnabled reports whether the system slot is active.
func (c *Capture) IsSystemCaptureEnabled() bool {
	return c.captureSystem
}

// Close stops capture and releases the malgo context.
func (c *Capture) Close() {
	c.Stop()
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx.Free()
	}
}

func deviceIDToString(id malgo.DeviceID) string {
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}

func stringToDeviceID(s string) (*malgo.DeviceID, error) {
	if len(s) > 32 {
		return nil, fmt.Errorf("device ID too long")
	}
	var id malgo.DeviceID
	copy(id[:], []byte(s))
	return &id, nil
}
