package datasync

import (
	"context"
	"time"
)

// Signal is what caused a sync run
type Signal string

const (
	SignalInitial    Signal = "initial"
	SignalTimer      Signal = "timer"
	SignalVisibility Signal = "visibility"
	SignalOnline     Signal = "online"
	SignalFocus      Signal = "focus"
	SignalManual     Signal = "manual"
	SignalForce      Signal = "force"
)

// ParseSignal accepts the environment signals a UI may relay
func ParseSignal(s string) (Signal, bool) {
	switch sig := Signal(s); sig {
	case SignalVisibility, SignalOnline, SignalFocus:
		return sig, true
	}
	return "", false
}

// Start schedules a run after the initial delay and then one every
// interval, until ctx is done or Stop is called. Without a session token
// nothing is scheduled and ErrUnauthenticated is returned. Calling Start
// while already running is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	if !m.session.IsAuthenticated(ctx) {
		m.logger.Info("Not scheduling sync without a session token")
		m.fail(ErrUnauthenticated)
		return ErrUnauthenticated
	}

	m.runMutex.Lock()
	defer m.runMutex.Unlock()
	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.schedule(runCtx)

	m.logger.Info("Sync scheduled", "interval", m.cfg.Interval, "initial_delay", m.cfg.InitialDelay)
	return nil
}

// Stop cancels the schedule and waits for in-flight scheduled runs
func (m *Manager) Stop() {
	m.runMutex.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMutex.Unlock()

	if cancel != nil {
		m.logger.Info("Stopping sync schedule")
		cancel()
	}
	m.wg.Wait()
}

// Running reports whether the schedule is active
func (m *Manager) Running() bool {
	m.runMutex.Lock()
	defer m.runMutex.Unlock()
	return m.cancel != nil
}

// Signal starts a run in the background for an environment signal, the
// same way the timer does. Runs started this way are not de-duplicated.
func (m *Manager) Signal(ctx context.Context, sig Signal) {
	runCtx := context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.tick(runCtx, sig)
	}()
}

func (m *Manager) schedule(ctx context.Context) {
	defer m.wg.Done()

	initial := time.NewTimer(m.cfg.InitialDelay)
	defer initial.Stop()

	select {
	case <-ctx.Done():
		return
	case <-initial.C:
		m.tick(ctx, SignalInitial)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Sync schedule stopped")
			return
		case <-ticker.C:
			m.tick(ctx, SignalTimer)
		}
	}
}

// tick runs one sync and keeps a failure or panic from ending the schedule
func (m *Manager) tick(ctx context.Context, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in sync run", "trigger", sig, "panic", r)
		}
	}()

	if err := m.run(ctx, sig); err != nil {
		m.logger.Debug("Scheduled sync failed, next tick retries", "trigger", sig, "error", err)
	}
}
