package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jypelle/authbox/internal/srv/scheduler"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const saveDelay = 10 * time.Second

// Timers is the part of the scheduler the state relies on to delay saves.
type Timers interface {
	Schedule(delay time.Duration, fn func()) scheduler.Handle
}

type ServerState struct {
	serverStateConfig     ServerStateConfig
	lock                  sync.RWMutex
	timers                Timers
	pendingSave           scheduler.Handle
	completeStateFilename string
}

func NewServerState(completeStateFilename string, timers Timers) (*ServerState, error) {
	serverState := &ServerState{
		completeStateFilename: completeStateFilename,
		timers:                timers,
	}

	rawConfig, err := os.ReadFile(completeStateFilename)
	if err == nil {
		// Interpret state file
		err = yaml.Unmarshal(rawConfig, &serverState.serverStateConfig)
		if err != nil {
			return nil, fmt.Errorf("unable to interpret state file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("unable to read state file: %w", err)
	}

	return serverState, nil
}

type ServerStateConfig struct {
	GrantedCount int64     `yaml:"granted_count"`
	DeniedCount  int64     `yaml:"denied_count"`
	LastHolder   string    `yaml:"last_holder,omitempty"`
	LastAccess   time.Time `yaml:"last_access,omitempty"`
}

// Stats returns a copy of the access counters.
func (ss *ServerState) Stats() ServerStateConfig {
	ss.lock.RLock()
	defer ss.lock.RUnlock()

	return ss.serverStateConfig
}

func (ss *ServerState) RecordGranted(holder string, at time.Time) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	ss.serverStateConfig.GrantedCount++
	ss.serverStateConfig.LastHolder = holder
	ss.serverStateConfig.LastAccess = at
	ss.scheduleSave()
}

func (ss *ServerState) RecordDenied() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	ss.serverStateConfig.DeniedCount++
	ss.scheduleSave()
}

// scheduleSave postpones the write so that a burst of badges gives a single save.
func (ss *ServerState) scheduleSave() {
	if ss.timers == nil {
		if err := ss.save(); err != nil {
			logrus.Errorf("%v", err)
		}
		return
	}
	ss.pendingSave.Cancel()
	ss.pendingSave = ss.timers.Schedule(saveDelay, func() {
		ss.lock.Lock()
		defer ss.lock.Unlock()
		ss.pendingSave = scheduler.Handle{}
		if err := ss.save(); err != nil {
			logrus.Errorf("%v", err)
		}
	})
}

func (ss *ServerState) save() error {
	logrus.Infof("Save state file: %s", ss.completeStateFilename)
	rawConfig, err := yaml.Marshal(&ss.serverStateConfig)
	if err != nil {
		return fmt.Errorf("unable to serialize state file: %w", err)
	}
	err = os.WriteFile(ss.completeStateFilename, rawConfig, 0660)
	if err != nil {
		return fmt.Errorf("unable to save state file: %w", err)
	}
	return nil
}

// FlushSave writes the state now if a delayed save is pending.
func (ss *ServerState) FlushSave() error {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	if ss.pendingSave.Cancel() {
		ss.pendingSave = scheduler.Handle{}
		return ss.save()
	}
	return nil
}
