// Package notify implements the deadline reminder service. On a cron schedule
// it sweeps all accounts, collects applications whose deadline falls inside
// the reminder horizon and delivers a digest to each user.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"

	"github.com/umputun/jobtrack/app/persistence"
	"github.com/umputun/jobtrack/app/store"
)

// DataSource provides the accounts and records the sweep iterates over
type DataSource interface {
	ListUsers(ctx context.Context) ([]persistence.User, error)
	ListJobs(ctx context.Context, userID string) ([]store.JobRecord, error)
}

// Sender delivers a message to a destination, subset of go-pkgz/notify
type Sender interface {
	Send(ctx context.Context, destination, text string) error
	Schema() string
}

// Repeater repeats failed delivery attempts
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Service is the reminder sweep. Destinations are templates with an {email}
// token substituted per user, routed to the sender matching the URL schema.
type Service struct {
	Data         DataSource
	Senders      []Sender
	Repeater     Repeater
	Destinations []string
	Schedule     string // cron spec, i.e. "0 8 * * *"
	HorizonDays  int    // how far ahead a deadline triggers a reminder
	Concurrency  int    // parallel user sweeps

	nowFn func() time.Time
}

// Run schedules the sweep and blocks until ctx is canceled
func (s *Service) Run(ctx context.Context) error {
	if len(s.Senders) == 0 || len(s.Destinations) == 0 {
		log.Printf("[WARN] reminder service disabled, no senders or destinations")
		<-ctx.Done()
		return ctx.Err()
	}

	sched, err := cron.ParseStandard(s.Schedule)
	if err != nil {
		return fmt.Errorf("failed to parse reminder schedule %q: %w", s.Schedule, err)
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() { s.Sweep(ctx) }))
	c.Start()
	log.Printf("[INFO] reminder service started, schedule %q, horizon %d days", s.Schedule, s.HorizonDays)

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Sweep runs one full pass over all accounts, each user handled in its own
// goroutine limited by Concurrency
func (s *Service) Sweep(ctx context.Context) {
	users, err := s.Data.ListUsers(ctx)
	if err != nil {
		log.Printf("[WARN] reminder sweep failed to list users: %v", err)
		return
	}

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	gr := syncs.NewSizedGroup(concurrency, syncs.Context(ctx))
	for _, u := range users {
		gr.Go(func(ctx context.Context) {
			if err := s.sweepUser(ctx, u); err != nil {
				log.Printf("[WARN] reminder sweep failed for user %s: %v", u.Email, err)
			}
		})
	}
	gr.Wait()
}

func (s *Service) sweepUser(ctx context.Context, u persistence.User) error {
	jobs, err := s.Data.ListJobs(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	due := s.dueJobs(jobs)
	if len(due) == 0 {
		return nil
	}

	text := s.makeDigest(due)
	for _, tmpl := range s.Destinations {
		dest := strings.ReplaceAll(tmpl, "{email}", u.Email)
		sender := s.senderFor(dest)
		if sender == nil {
			log.Printf("[WARN] no sender for destination %s", dest)
			continue
		}
		err := s.Repeater.Do(ctx, func() error { return sender.Send(ctx, dest, text) })
		if err != nil {
			return fmt.Errorf("failed to deliver reminder to %s: %w", dest, err)
		}
	}
	log.Printf("[INFO] delivered reminder with %d deadlines to %s", len(due), u.Email)
	return nil
}

// dueJobs returns records with a deadline inside [today, today+horizon],
// skipping applications already settled
func (s *Service) dueJobs(jobs []store.JobRecord) []store.JobRecord {
	now := time.Now()
	if s.nowFn != nil {
		now = s.nowFn()
	}
	horizon := s.HorizonDays
	if horizon <= 0 {
		horizon = 3
	}
	utc := now.UTC() // deadlines are stored in UTC, the window must not shift with host timezone
	today := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, horizon+1) // end of the last horizon day

	var due []store.JobRecord
	for _, j := range jobs {
		if j.Deadline.IsZero() {
			continue
		}
		if j.Status == store.StatusAccepted || j.Status == store.StatusRejected {
			continue
		}
		if j.Deadline.Before(today) || !j.Deadline.Before(cutoff) {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	return due
}

func (s *Service) makeDigest(due []store.JobRecord) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%d application deadline(s) coming up:\n", len(due))
	for _, j := range due {
		fmt.Fprintf(b, "- %s at %s, due %s (%s)\n", j.Title, j.Company, j.Deadline.Format("2006-01-02"), j.Status)
	}
	return b.String()
}

func (s *Service) senderFor(dest string) Sender {
	for _, snd := range s.Senders {
		if strings.HasPrefix(dest, snd.Schema()) { // "http" covers https destinations too
			return snd
		}
	}
	return nil
}
