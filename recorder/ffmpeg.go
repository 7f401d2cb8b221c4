package recorder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

var ffmpegPath string

// FFmpegPath returns the cached path to the ffmpeg binary, searching the
// same candidate locations the teacher's MP3 writer does (app bundle
// Resources dir, next to the executable, cwd, vendor dir, then PATH).
func FFmpegPath() string {
	if ffmpegPath != "" {
		return ffmpegPath
	}

	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		candidates = append(candidates,
			filepath.Join(execDir, "..", "Resources", "ffmpeg"),
			filepath.Join(execDir, "ffmpeg"),
		)
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(cwd, "ffmpeg"),
			filepath.Join(cwd, "vendor", "ffmpeg", "ffmpeg"),
			filepath.Join(cwd, "build", "resources", "ffmpeg"),
			filepath.Join(cwd, "..", "build", "resources", "ffmpeg"),
		)
	}

	for _, path := range candidates {
		if fileExists(path) {
			ffmpegPath = path
			return ffmpegPath
		}
	}

	if systemPath, err := exec.LookPath("ffmpeg"); err == nil {
		ffmpegPath = systemPath
		return ffmpegPath
	}

	ffmpegPath = "ffmpeg"
	return ffmpegPath
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var versionRE = regexp.MustCompile(`ffmpeg version (\d+)\.(\d+)`)

// ProbeVersion runs `ffmpeg -version` under a bounded deadline and checks
// the reported major.minor against a minimum (§6: media tool dependency).
func ProbeVersion(ctx context.Context, minMajor, minMinor int) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, FFmpegPath(), "-version").Output()
	if err != nil {
		return fmt.Errorf("ffmpeg not found or failed to run: %w", err)
	}

	m := versionRE.FindStringSubmatch(string(out))
	if m == nil {
		return fmt.Errorf("could not parse ffmpeg version from output")
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	if major < minMajor || (major == minMajor && minor < minMinor) {
		return fmt.Errorf("ffmpeg version %d.%d is older than required %d.%d", major, minor, minMajor, minMinor)
	}
	return nil
}
