/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package taskmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
)

const (
	coordinationPermitKey = "task-permit"
	defaultCheckInterval  = 10 * time.Second
)

type status = string

const (
	loggerModule = "task-manager"

	statusIdle    status = "idle"
	statusRunning status = "running"
)

// permit is an entry in the coordination store that ensures only one server instance
// within a cluster has the duty of running a given task.
type permit struct {
	// TaskID is the ID of the task that is being run.
	TaskID string `json:"taskId"`
	// CurrentHolder indicates which server instance currently has the duty.
	CurrentHolder string `json:"currentHolder"`
	// Status indicates the current status (idle or running).
	Status string `json:"status"`
	// UpdatedTime is the Unix timestamp at which the status was last updated.
	UpdatedTime int64 `json:"updateTime"`
}

// Manager manages scheduled tasks which are run by exactly one server instance in a cluster.
type Manager struct {
	*lifecycle.Lifecycle

	interval          time.Duration
	tasks             map[string]*registration
	done              chan struct{}
	logger            *log.Log
	coordinationStore storage.Store
	instanceID        string
	mutex             sync.RWMutex
}

// New returns a new task manager.
// coordinationStore ensures that only one server instance within a cluster has the duty of
// running scheduled tasks, so that every instance isn't doing the same work. Every instance
// within the cluster needs to be connected to the same database for this to work correctly.
// When instances are initializing (or if the instance with the duty goes down) it is possible
// for multiple instances to briefly assign themselves the duty, but only for one round. This
// resolves itself on the next check and only one instance ends up with the duty from that
// point on, so tasks should tolerate the occasional concurrent run.
// Each task must be registered using RegisterTask. Start must be called to start the service
// and Stop should be called to stop it.
func New(coordinationStore storage.Store, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	instanceID := uuid.New().String()

	s := &Manager{
		interval:          interval,
		done:              make(chan struct{}),
		logger:            log.New(loggerModule, log.WithFields(logfields.WithInstanceID(instanceID))),
		coordinationStore: coordinationStore,
		instanceID:        instanceID,
		tasks:             make(map[string]*registration),
	}

	s.Lifecycle = lifecycle.New("task-manager",
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop))

	return s
}

// InstanceID returns the unique ID of this server instance.
func (s *Manager) InstanceID() string {
	return s.instanceID
}

// RegisterTask registers a task to be periodically run at the given interval.
func (s *Manager) RegisterTask(id string, interval time.Duration, task func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[id] = &registration{
		handle:   task,
		id:       id,
		interval: interval,
	}
}

func (s *Manager) getTasks() []*registration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var tasks []*registration

	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}

	return tasks
}

func (s *Manager) start() {
	go func() {
		s.logger.Info("Started task manager.")

		for {
			select {
			case <-time.After(s.interval):
				for _, t := range s.getTasks() {
					if err := s.run(t); err != nil {
						s.logger.Error("Error running task", logfields.WithError(err), logfields.WithTask(t.id))
					}
				}
			case <-s.done:
				s.logger.Debug("Stopped task manager.")

				return
			}
		}
	}()
}

func (s *Manager) stop() {
	close(s.done)
}

func (s *Manager) run(t *registration) error {
	if t.isRunning() {
		s.logger.Debug("Task is still running. Updating the timestamp in the permit to tell others that I'm still alive.",
			logfields.WithTask(t.id))

		if err := s.updatePermit(t.id, statusRunning); err != nil {
			s.logger.Warn("Error updating status of task", logfields.WithTask(t.id), logfields.WithError(err))
		}

		return nil
	}

	ok, err := s.shouldRun(t)
	if err != nil {
		return fmt.Errorf("should run: %w", err)
	}

	if !ok {
		s.logger.Debug("Not running task.", logfields.WithTask(t.id))

		return nil
	}

	err = s.updatePermit(t.id, statusRunning)
	if err != nil {
		return fmt.Errorf("update permit for task: %w", err)
	}

	go func(t *registration) {
		s.logger.Debug("Running task", logfields.WithTask(t.id))

		t.run()

		if err := s.updatePermit(t.id, statusIdle); err != nil {
			s.logger.Error("Failed to update permit for task", logfields.WithTask(t.id), logfields.WithError(err))
		}

		s.logger.Debug("Finished running task", logfields.WithTask(t.id))
	}(t)

	return nil
}

func (s *Manager) shouldRun(t *registration) (bool, error) {
	currentPermitBytes, err := s.coordinationStore.Get(getPermitKey(t.id))
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			s.logger.Info("No existing permit found for task. I will take on the duty of running the task.",
				logfields.WithTask(t.id))

			return true, nil
		}

		return false, fmt.Errorf("get permit from DB for task [%s]: %w", t.id, err)
	}

	var currentPermit permit

	err = json.Unmarshal(currentPermitBytes, &currentPermit)
	if err != nil {
		return false, fmt.Errorf("unmarshal permit for task [%s]: %w", t.id, err)
	}

	// The permit timestamp is a Unix timestamp, which is truncated to the nearest second,
	// so the elapsed time is truncated as well since that's all the precision we have.
	timeSinceLastUpdate := time.Since(time.Unix(currentPermit.UpdatedTime, 0)).Truncate(time.Second)

	if currentPermit.CurrentHolder == s.instanceID {
		if timeSinceLastUpdate < t.interval {
			s.logger.Debug("It's currently my duty to run this task but it's not time for it to run.",
				logfields.WithTask(t.id), logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate),
				logfields.WithMonitorInterval(t.interval))

			return false, nil
		}

		s.logger.Debug("It's currently my duty to run task.", logfields.WithTask(t.id),
			logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate))

		return true, nil
	}

	// Take the duty away from the current permit holder only if an unusually long time has
	// passed since the holder last updated the permit, which indicates that the holder is
	// down or not responding. "Unusually long" means longer than the manager's check interval
	// plus the task's run interval. This assumes that all instances within the cluster are
	// configured with the same intervals.
	maxTime := s.interval + t.interval

	if timeSinceLastUpdate > maxTime {
		s.logger.Info("The current permit holder for this task has not updated the permit in an "+
			"unusually long time. This indicates that the permit holder may be down or not responding. "+
			"I will take over and grab the permit.",
			logfields.WithPermitHolder(currentPermit.CurrentHolder), logfields.WithTask(t.id),
			logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate), logfields.WithMaxTime(maxTime))

		return true, nil
	}

	s.logger.Debug("I will not run this task since I am not the permit holder and it ran recently.",
		logfields.WithTask(t.id), logfields.WithPermitHolder(currentPermit.CurrentHolder),
		logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate))

	return false, nil
}

func (s *Manager) updatePermit(taskID string, status status) error {
	s.logger.Debug("Updating the permit for task with the current time and status.",
		logfields.WithTask(taskID), logfields.WithStatus(status))

	p := permit{
		TaskID:        taskID,
		CurrentHolder: s.instanceID,
		Status:        status,
		UpdatedTime:   time.Now().Unix(),
	}

	permitBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal permit: %w", err)
	}

	err = s.coordinationStore.Put(getPermitKey(taskID), permitBytes)
	if err != nil {
		return fmt.Errorf("failed to store permit: %w", err)
	}

	s.logger.Debug("Permit successfully updated for task.", logfields.WithTask(taskID), logfields.WithStatus(status))

	return nil
}

func getPermitKey(taskID string) string {
	return coordinationPermitKey + "_" + taskID
}

type registration struct {
	handle   func()
	running  uint32
	id       string
	interval time.Duration
}

func (r *registration) run() {
	if !atomic.CompareAndSwapUint32(&r.running, 0, 1) {
		// Already running.
		return
	}

	r.handle()

	atomic.StoreUint32(&r.running, 0)
}

func (r *registration) isRunning() bool {
	return atomic.LoadUint32(&r.running) == 1
}
