// Package supervisor owns the lifecycle of every worker process — spec.md
// §4.3. It spawns the worker binary per instance, tracks its PID, streams
// stdio to the gateway log, reacts to exit, runs periodic health checks,
// and recovers previously-active instances on gateway startup.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shridarpatil/wagateway/internal/apperr"
	"github.com/shridarpatil/wagateway/internal/config"
	"github.com/shridarpatil/wagateway/internal/logging"
	"github.com/shridarpatil/wagateway/internal/store"
)

// Supervisor implements spec.md §4.3.
type Supervisor struct {
	cfg   *config.Config
	store *store.Store
	log   *zap.Logger
	sink  EventSink

	locks *keyedMutex

	mu       sync.RWMutex
	handles  map[string]*WorkerProcess

	healthStop chan struct{}
	healthDone chan struct{}
}

// New constructs a Supervisor. sink may be NopSink{} if no mirror/metrics
// component is wired yet.
func New(cfg *config.Config, st *store.Store, log *zap.Logger, sink EventSink) *Supervisor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Supervisor{
		cfg:     cfg,
		store:   st,
		log:     log,
		sink:    sink,
		locks:   newKeyedMutex(),
		handles: make(map[string]*WorkerProcess),
	}
}

// Start spawns a new worker for hash if none is already alive — spec.md
// §4.3 start(). Idempotent in the "already exists" sense required by R2:
// a second call returns an error without spawning a second process.
func (s *Supervisor) Start(hash string) (*WorkerProcess, error) {
	unlock := s.locks.lockFor(hash)
	defer unlock()

	if h := s.get(hash); h != nil && h.State == StateRunning {
		return nil, apperr.New(400, "ALREADY_RUNNING", "worker already exists for this instance")
	}

	inst, err := s.store.FindByHash(hash)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, apperr.InstanceNotFound
	}
	if inst.Port == 0 {
		return nil, apperr.Internal.WithMessage("instance has no allocated port")
	}

	sessionPath := s.cfg.SessionPath(hash)
	if err := os.MkdirAll(sessionPath, 0o755); err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	if err := os.MkdirAll(filepath.Join(sessionPath, "logs"), 0o755); err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	cmd := exec.Command(s.cfg.BinPath, "rest")
	cmd.Dir = sessionPath
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("APP_PORT=%d", inst.Port),
		fmt.Sprintf("APP_BASIC_AUTH=%s:%s", s.cfg.DefaultAdminUser, s.cfg.DefaultAdminPass),
		"APP_DEBUG=true",
		"APP_OS=Chrome",
		"APP_ACCOUNT_VALIDATION=false",
		fmt.Sprintf("DB_URI=file:%s/whatsapp.db?_foreign_keys=on", sessionPath),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		s.markError(hash)
		return nil, apperr.Internal.WithCause(err)
	}

	fileWriter := logging.InstanceWriter(sessionPath)
	go s.forwardLines(hash, "stdout", stdout, fileWriter)
	go s.forwardLines(hash, "stderr", stderr, fileWriter)

	wp := &WorkerProcess{
		PID:          cmd.Process.Pid,
		InstanceHash: hash,
		Port:         inst.Port,
		StartedAt:    time.Now(),
		SessionPath:  sessionPath,
		State:        StateRunning,
		cmd:          cmd,
		done:         make(chan struct{}),
	}
	s.mu.Lock()
	s.handles[hash] = wp
	s.mu.Unlock()

	go s.reap(wp)

	status := store.StatusActive
	containerID := strconv.Itoa(wp.PID)
	if _, err := s.store.Update(hash, store.UpdateInput{Status: &status, ContainerID: &containerID}); err != nil {
		s.log.Warn("supervisor: failed to persist active status", zap.String("instance", hash), zap.Error(err))
	}

	s.sink.WorkerStarted(hash, inst.Port)
	return wp, nil
}

func (s *Supervisor) forwardLines(hash, stream string, r io.Reader, fileWriter io.Writer) {
	tee := io.TeeReader(r, fileWriter)
	scanner := bufio.NewScanner(tee)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.log.Info(scanner.Text(), zap.String("instance", hash), zap.String("stream", stream))
	}
}

// reap waits for the process to exit and clears the in-memory handle —
// spec.md §4.3.
func (s *Supervisor) reap(wp *WorkerProcess) {
	_ = wp.cmd.Wait()
	close(wp.done)

	s.mu.Lock()
	current, ok := s.handles[wp.InstanceHash]
	if ok && current == wp {
		delete(s.handles, wp.InstanceHash)
	}
	s.mu.Unlock()
}

// Stop sends the graceful termination signal, waits up to timeout, then
// escalates to a forcible kill — spec.md §4.3 stop(). Never releases the
// port (only Delete does, per spec.md §9).
func (s *Supervisor) Stop(hash string, timeout time.Duration) error {
	unlock := s.locks.lockFor(hash)
	defer unlock()

	wp := s.get(hash)
	if wp == nil {
		status := store.StatusStopped
		empty := ""
		_, _ = s.store.Update(hash, store.UpdateInput{Status: &status, ContainerID: &empty})
		return nil
	}

	_ = wp.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-wp.done:
	case <-time.After(timeout):
		_ = wp.cmd.Process.Kill()
		select {
		case <-wp.done:
		case <-time.After(5 * time.Second):
			s.log.Error("supervisor: worker did not exit after force-kill", zap.String("instance", hash))
		}
	}

	s.mu.Lock()
	delete(s.handles, hash)
	s.mu.Unlock()

	status := store.StatusStopped
	empty := ""
	if _, err := s.store.Update(hash, store.UpdateInput{Status: &status, ContainerID: &empty}); err != nil {
		s.log.Warn("supervisor: failed to persist stopped status", zap.String("instance", hash), zap.Error(err))
	}
	s.sink.WorkerStopped(hash)
	return nil
}

// Restart stops then starts — spec.md §4.3.
func (s *Supervisor) Restart(hash string, timeout time.Duration) (*WorkerProcess, error) {
	if err := s.Stop(hash, timeout); err != nil {
		return nil, err
	}
	return s.Start(hash)
}

// ListAll returns a snapshot of every live handle — spec.md §4.3 listAll().
func (s *Supervisor) ListAll() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.handles))
	for _, wp := range s.handles {
		out = append(out, Snapshot{
			PID:          wp.PID,
			InstanceHash: wp.InstanceHash,
			Port:         wp.Port,
			StartedAt:    wp.StartedAt,
			State:        wp.State,
		})
	}
	return out
}

func (s *Supervisor) get(hash string) *WorkerProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[hash]
}

func (s *Supervisor) markError(hash string) {
	status := store.StatusError
	_, _ = s.store.Update(hash, store.UpdateInput{Status: &status})
}

// pidAlive uses gopsutil rather than a raw syscall.Kill(pid, 0) probe —
// SPEC_FULL.md §2 item 14.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := gopsutilprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

// RecoverAll implements startup recovery — spec.md §4.3: adopt a PID still
// alive, attempt a restart when a prior session exists on disk, otherwise
// mark stopped.
func (s *Supervisor) RecoverAll(ctx context.Context) error {
	instances, err := s.store.All()
	if err != nil {
		return err
	}

	for _, inst := range instances {
		inst := inst
		if inst.ContainerID != "" {
			if pid, err := strconv.Atoi(inst.ContainerID); err == nil && pidAlive(pid) {
				s.mu.Lock()
				s.handles[inst.Hash] = &WorkerProcess{
					PID:          pid,
					InstanceHash: inst.Hash,
					Port:         inst.Port,
					StartedAt:    time.Now(),
					SessionPath:  s.cfg.SessionPath(inst.Hash),
					State:        StateRunning,
					done:         make(chan struct{}),
				}
				s.mu.Unlock()
				s.log.Info("supervisor: adopted live worker", zap.String("instance", inst.Hash), zap.Int("pid", pid))
				continue
			}
		}

		dbPath := filepath.Join(s.cfg.SessionPath(inst.Hash), "whatsapp.db")
		if _, err := os.Stat(dbPath); err == nil {
			if _, err := s.Start(inst.Hash); err != nil {
				s.log.Warn("supervisor: startup recovery restart failed", zap.String("instance", inst.Hash), zap.Error(err))
			}
			continue
		}

		status := store.StatusStopped
		empty := ""
		if _, err := s.store.Update(inst.Hash, store.UpdateInput{Status: &status, ContainerID: &empty}); err != nil {
			s.log.Warn("supervisor: failed clearing stale instance", zap.String("instance", inst.Hash), zap.Error(err))
		}
	}
	return nil
}

// RunHealthChecks starts the periodic liveness loop — spec.md §4.3. Call
// StopHealthChecks during graceful shutdown.
func (s *Supervisor) RunHealthChecks(ctx context.Context) {
	s.healthStop = make(chan struct{})
	s.healthDone = make(chan struct{})

	go func() {
		defer close(s.healthDone)
		ticker := time.NewTicker(s.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.checkOnce()
			case <-s.healthStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopHealthChecks stops the periodic loop and waits for it to exit.
func (s *Supervisor) StopHealthChecks() {
	if s.healthStop == nil {
		return
	}
	close(s.healthStop)
	<-s.healthDone
}

func (s *Supervisor) checkOnce() {
	s.mu.RLock()
	snapshot := make([]*WorkerProcess, 0, len(s.handles))
	for _, wp := range s.handles {
		snapshot = append(snapshot, wp)
	}
	s.mu.RUnlock()

	for _, wp := range snapshot {
		if pidAlive(wp.PID) {
			continue
		}
		s.mu.Lock()
		if current, ok := s.handles[wp.InstanceHash]; ok && current == wp {
			delete(s.handles, wp.InstanceHash)
		}
		s.mu.Unlock()

		status := store.StatusError
		if _, err := s.store.Update(wp.InstanceHash, store.UpdateInput{Status: &status}); err != nil {
			s.log.Warn("supervisor: failed to persist error status after health check", zap.String("instance", wp.InstanceHash), zap.Error(err))
		}
		s.sink.ProcessDied(wp.InstanceHash)
	}
}

// StopAll gracefully stops every tracked worker, bounded by an overall
// deadline — used by graceful shutdown, SPEC_FULL.md §5.
func (s *Supervisor) StopAll(ctx context.Context, perWorkerTimeout time.Duration) {
	s.mu.RLock()
	hashes := make([]string, 0, len(s.handles))
	for h := range s.handles {
		hashes = append(hashes, h)
	}
	s.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, h := range hashes {
		h := h
		g.Go(func() error {
			if err := s.Stop(h, perWorkerTimeout); err != nil {
				s.log.Warn("supervisor: stop during shutdown failed", zap.String("instance", h), zap.Error(err))
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() { _ = g.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("supervisor: shutdown deadline exceeded while stopping workers")
	}
}
