package deps

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"podscribe/internal/config"
)

// Requirement defines an external dependency podscribe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the external binaries workers execute.
func Requirements(cfg *config.Config) []Requirement {
	binary := "whisper"
	if cfg != nil && strings.TrimSpace(cfg.Transcription.Binary) != "" {
		binary = cfg.Transcription.Binary
	}
	return []Requirement{
		{Name: "Whisper", Command: binary, Description: "Speech-to-text for transcribe workers"},
		{Name: "FFmpeg", Command: "ffmpeg", Description: "Audio decoding used by Whisper", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckWritableDir reports whether dir exists and the current user may create
// entries in it. Sentinel creation needs exactly this permission.
func CheckWritableDir(name, dir string) Status {
	status := Status{Name: name, Command: dir, Description: "writable directory"}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		status.Detail = "directory does not exist"
		return status
	case err != nil:
		status.Detail = err.Error()
		return status
	case !info.IsDir():
		status.Detail = "not a directory"
		return status
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		status.Detail = fmt.Sprintf("not writable: %v", err)
		return status
	}
	status.Available = true
	return status
}
