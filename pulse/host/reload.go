package host

import (
	"context"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// WatchConfig reloads configPath on change and registers job definitions
// that appeared since the last load. Removed or edited definitions keep
// their stored schedule; the watcher stops with the host.
func (h *Host) WatchConfig(configPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StateRunning {
		return errors.Newf("cannot watch config while %s", h.State())
	}
	if h.watcher != nil {
		return errors.New("config already watched")
	}

	watcher, err := am.NewConfigWatcher(configPath)
	if err != nil {
		return err
	}
	watcher.OnReload(h.ApplyJobs)
	watcher.Start()
	h.watcher = watcher

	h.log.Infow("Watching config for new job definitions", "path", configPath)
	return nil
}

// ApplyJobs registers the definitions in cfg this host has not registered yet,
// including ones that failed before. Returns the combined registration errors.
func (h *Host) ApplyJobs(cfg *am.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StateRunning {
		return errors.Newf("cannot apply jobs while %s", h.State())
	}

	var pending []am.JobConfig
	for _, jc := range cfg.Jobs {
		if h.registry.Known(jc.JobType) {
			continue
		}
		pending = append(pending, jc)
	}
	if len(pending) == 0 {
		return nil
	}

	h.log.Infow("Registering job definitions from reloaded config", logger.FieldCount, len(pending))
	h.registerJobs(context.Background(), pending)

	regErrors := h.RegistrationErrors()
	var combined error
	for _, jc := range pending {
		if err, failed := regErrors[jc.JobType]; failed {
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "job %s", jc.JobType))
		}
	}
	return combined
}
