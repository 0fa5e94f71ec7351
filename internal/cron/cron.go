package cron

import (
	"context"
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/tracing"
)

const GroupMaintenance = "maintenance"

// Jobs in the same group never overlap.
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMaintenance: new(sync.Mutex),
	},
}

// CronManager schedules the recurring maintenance work. Every job only
// enqueues a task; the actual work runs on the task workers.
type CronManager struct {
	cfg        *config.CronConfig
	log        logger.Logger
	dispatcher interfaces.TaskDispatcher
	cron       *cronv3.Cron
	jobIDs     map[string]cronv3.EntryID
}

func NewCronManager(cfg *config.CronConfig, log logger.Logger, dispatcher interfaces.TaskDispatcher) *CronManager {
	return &CronManager{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		jobIDs:     make(map[string]cronv3.EntryID),
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	cm.registerJob(c, "process_mail", cm.cfg.ProcessMailSchedule, dto.TaskProcessMailAccounts)
	cm.registerJob(c, "index_optimize", cm.cfg.IndexOptimizeSchedule, dto.TaskIndexOptimize)
	cm.registerJob(c, "sanity_check", cm.cfg.SanityCheckSchedule, dto.TaskSanityCheck)
}

func (cm *CronManager) registerJob(c *cronv3.Cron, name, schedule, taskType string) {
	if schedule == "" {
		return
	}
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		jobLocks.locks[GroupMaintenance].Lock()
		defer jobLocks.locks[GroupMaintenance].Unlock()
		cm.submitTask(name, taskType)
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

func (cm *CronManager) submitTask(name, taskType string) {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager."+name)
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	taskID, err := cm.dispatcher.SubmitTask(ctx, interfaces.TaskSpec{Type: taskType, Payload: struct{}{}})
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to submit %s task: %v", name, err)
		return
	}
	cm.log.Infof("Submitted %s as task %s", name, taskID)
}
