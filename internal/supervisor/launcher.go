package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"podscribe/internal/archive"
	"podscribe/internal/logging"
)

// ExecLauncher starts workers by re-executing a podscribe binary as
// `podscribe worker <kind> --feed <name>`.
type ExecLauncher struct {
	executable string
	configPath string
	logDir     string
	logger     *slog.Logger
}

// NewExecLauncher returns a launcher for executable. configPath is forwarded
// with --config when set; worker output is appended to files under logDir.
func NewExecLauncher(executable, configPath, logDir string, logger *slog.Logger) *ExecLauncher {
	return &ExecLauncher{
		executable: executable,
		configPath: configPath,
		logDir:     logDir,
		logger:     logging.NewComponentLogger(logger, "launcher"),
	}
}

// Args returns the command line used for a worker.
func (l *ExecLauncher) Args(kind archive.Kind, feed string) []string {
	args := []string{"worker", string(kind), "--feed", feed}
	if l.configPath != "" {
		args = append(args, "--config", l.configPath)
	}
	return args
}

// LogPath returns the file a worker's output is appended to.
func (l *ExecLauncher) LogPath(kind archive.Kind, feed string) string {
	return WorkerLogPath(l.logDir, kind, feed)
}

// WorkerLogPath names the log file of the kind worker for feed under logDir.
func WorkerLogPath(logDir string, kind archive.Kind, feed string) string {
	return filepath.Join(logDir, fmt.Sprintf("%s_%s.log", kind, feed))
}

// Launch starts a detached worker. The child gets its own process group so a
// terminal interrupt aimed at the supervisor does not reach it, and it is
// reaped in the background.
func (l *ExecLauncher) Launch(_ context.Context, kind archive.Kind, feed string) (int, error) {
	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return 0, fmt.Errorf("create worker log dir: %w", err)
	}
	logFile, err := os.OpenFile(l.LogPath(kind, feed), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(l.executable, l.Args(kind, feed)...) //nolint:gosec
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s worker for %s: %w", kind, feed, err)
	}
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		l.logger.Debug("worker exited",
			logging.String(logging.FieldEventType, "worker_exited"),
			logging.String(logging.FieldKind, string(kind)),
			logging.Feed(feed),
			logging.Int(logging.FieldPID, pid),
			logging.Error(err),
		)
	}()
	return pid, nil
}
