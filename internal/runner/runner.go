package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner schedules and executes the background tasks that keep the reply
// pipeline fed, mailbox polling chief among them.
type Runner struct {
	cron   *cron.Cron
	tasks  []Task
	logger *log.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the given tasks.
func NewRunner(tasks ...Task) *Runner {
	return &Runner{
		cron:   cron.New(cron.WithSeconds()),
		tasks:  tasks,
		logger: log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
	}
}

// Register adds a task before Start.
func (r *Runner) Register(task Task) {
	if task != nil {
		r.tasks = append(r.tasks, task)
	}
}

// Start schedules every task and blocks until shutdown.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Println("Starting task runner...")
	for _, task := range r.tasks {
		task := task
		r.logger.Printf("Registering task: %s with schedule: %s", task.Name(), task.Schedule())
		_, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(ctx, task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", task.Name(), err)
		}
	}
	r.cron.Start()
	r.logger.Println("Task runner started")
	return r.waitForShutdown(ctx)
}

// executeTask runs a single task with its timeout.
func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		r.logger.Printf("Task %s failed after %v: %v", task.Name(), duration, err)
	} else {
		r.logger.Printf("Task %s completed in %v", task.Name(), duration)
	}
}

// Stop stops scheduling and waits for running tasks to finish.
func (r *Runner) Stop() {
	r.logger.Println("Stopping task runner...")
	ctx := r.cron.Stop()
	r.wg.Wait()
	<-ctx.Done()
	r.logger.Println("Task runner stopped")
}

func (r *Runner) waitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		r.logger.Printf("Received signal: %v", sig)
		r.Stop()
		return nil
	case <-ctx.Done():
		r.Stop()
		return ctx.Err()
	}
}
