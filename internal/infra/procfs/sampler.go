package procfs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notebatch/internal/ports"
)

const (
	// DefaultInterval matches the reference sampling cadence. Spikes shorter
	// than the interval are invisible by construction; that is the accepted
	// precision/overhead trade-off of a polling sampler.
	DefaultInterval = 300 * time.Second

	timestampLayout = "2006-01-02 15:04:05"
)

var csvHeader = "timestamp,process_name,pid,vm_size_mb,vm_rss_mb\n"

// Config describes where and how often a Sampler records memory samples.
type Config struct {
	// Interval between samples. Zero selects DefaultInterval.
	Interval time.Duration
	// CSVPath receives one header row plus one row per sample.
	CSVPath string
	// LogPath receives free-text start/end lines. Defaults to CSVPath with a
	// .log extension.
	LogPath string
}

// Sampler polls /proc for the virtual and resident memory of watched
// processes. Concurrent watches share one CSV; rows carry the label and pid so
// interleaved samples stay attributable.
type Sampler struct {
	interval time.Duration
	csvPath  string
	logPath  string

	mu sync.Mutex
}

var _ ports.MemoryMonitor = (*Sampler)(nil)

// New builds a Sampler from cfg, applying defaults for unset fields.
func New(cfg Config) (*Sampler, error) {
	if cfg.CSVPath == "" {
		return nil, fmt.Errorf("memory sampler: csv path must be provided")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LogPath == "" {
		cfg.LogPath = strings.TrimSuffix(cfg.CSVPath, ".csv") + ".log"
	}

	return &Sampler{
		interval: cfg.Interval,
		csvPath:  cfg.CSVPath,
		logPath:  cfg.LogPath,
	}, nil
}

// Watch samples the process until it exits or the context ends. The CSV
// header is written immediately; a process that exits before the first tick
// therefore leaves at most one sample row behind. Individual unreadable
// samples are skipped, not surfaced: the monitored process vanishing is the
// normal way a watch ends.
func (s *Sampler) Watch(ctx context.Context, pid int, label string) error {
	if err := s.ensureHeader(); err != nil {
		return err
	}

	s.logLine("sampling started for %s (pid %d)", label, pid)
	defer s.logLine("sampling finished for %s (pid %d)", label, pid)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if !alive(pid) {
			return nil
		}
		s.sample(pid, label)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sample(pid int, label string) {
	vmSizeKB, vmRSSKB, err := readProcStatus(pid)
	if err != nil {
		return
	}

	row := fmt.Sprintf("%s,%s,%d,%s,%s\n",
		time.Now().Format(timestampLayout),
		label,
		pid,
		kbToMB(vmSizeKB),
		kbToMB(vmRSSKB),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendString(s.csvPath, row); err != nil {
		zap.L().Warn("memory sample dropped", zap.String("label", label), zap.Error(err))
	}
}

func (s *Sampler) ensureHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.csvPath)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat memory csv: %w", err)
	}

	if err := appendString(s.csvPath, csvHeader); err != nil {
		return fmt.Errorf("write memory csv header: %w", err)
	}
	return nil
}

func (s *Sampler) logLine(format string, args ...any) {
	line := fmt.Sprintf("%s %s\n", time.Now().Format(timestampLayout), fmt.Sprintf(format, args...))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendString(s.logPath, line); err != nil {
		zap.L().Warn("memory log line dropped", zap.Error(err))
	}
}

func appendString(path, data string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(data); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// readProcStatus returns the VmSize and VmRSS counters in kilobytes.
func readProcStatus(pid int) (vmSizeKB, vmRSSKB int64, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, 0, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "VmSize:"):
			vmSizeKB = parseKB(line)
		case strings.HasPrefix(line, "VmRSS:"):
			vmRSSKB = parseKB(line)
		}
	}
	return vmSizeKB, vmRSSKB, nil
}

func parseKB(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	value, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func kbToMB(kb int64) string {
	return strconv.FormatFloat(float64(kb)/1024, 'f', 2, 64)
}

// alive reports whether pid refers to a live process. Signal 0 probes
// existence without delivering anything; EPERM still means the process exists.
func alive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
