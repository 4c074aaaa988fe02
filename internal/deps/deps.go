package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"lockbox/internal/config"
)

// Requirement defines an external dependency lockbox relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists the binaries the daemon drives, resolved from configuration.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "gocryptfs", Command: cfg.Cryptfs.GocryptfsBinary, Description: "Creates and mounts per-user encrypted volumes"},
		{Name: "fusermount", Command: cfg.Cryptfs.FusermountBinary, Description: "Unmounts decrypted volumes"},
		{Name: "FFmpeg", Command: cfg.Transcode.FFmpegBinary, Description: "Converts images to WebP and videos to HLS"},
		{Name: "FFprobe", Command: cfg.Transcode.FFprobeBinary, Description: "Reads video duration for thumbnails", Optional: true},
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
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Command = resolved
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
