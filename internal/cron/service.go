// Package cron runs the scheduled context maintenance: the nightly
// timeline refresh and the layer summarization chain.
package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/dirsoul/dirsoul/internal/config"
	"github.com/dirsoul/dirsoul/internal/rlm"
)

type Service struct {
	refreshExpr   string
	summarizeExpr string
	days          int
	manager       *rlm.Manager
	summarizer    rlm.Summarizer
	cron          *rcron.Cron
}

func NewService(cfg config.ContextConfig, mgr *rlm.Manager, summarizer rlm.Summarizer) *Service {
	refresh := cfg.RefreshSchedule
	if refresh == "" {
		refresh = config.DefaultRefreshSchedule
	}
	summarize := cfg.SummarizeSchedule
	if summarize == "" {
		summarize = config.DefaultSummarizeSchedule
	}
	days := cfg.Days
	if days <= 0 {
		days = config.DefaultContextDays
	}
	return &Service{
		refreshExpr:   refresh,
		summarizeExpr: summarize,
		days:          days,
		manager:       mgr,
		summarizer:    summarizer,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.cron = rcron.New(rcron.WithSeconds())

	if _, err := s.cron.AddFunc(s.refreshExpr, func() {
		s.RefreshAll(ctx)
	}); err != nil {
		return fmt.Errorf("register refresh schedule %q: %w", s.refreshExpr, err)
	}

	if _, err := s.cron.AddFunc(s.summarizeExpr, func() {
		s.SummarizeAll(ctx)
	}); err != nil {
		return fmt.Errorf("register summarize schedule %q: %w", s.summarizeExpr, err)
	}

	s.cron.Start()
	log.Printf("[cron] started (refresh %q, summarize %q)", s.refreshExpr, s.summarizeExpr)
	return nil
}

// RefreshAll force-rebuilds the raw layer for every known user.
func (s *Service) RefreshAll(ctx context.Context) {
	for _, userID := range s.manager.Users() {
		count := s.manager.BuildContextFromTimeline(ctx, userID, s.days, true)
		log.Printf("[cron] refreshed context for %s: %d events", userID, count)
	}
}

// SummarizeAll runs the day-through-year summarization chain for every
// known user. A failure for one user does not stop the others.
func (s *Service) SummarizeAll(ctx context.Context) {
	for _, userID := range s.manager.Users() {
		if err := s.manager.SummarizeAll(ctx, userID, s.summarizer); err != nil {
			log.Printf("[cron] summarize for %s failed: %v", userID, err)
			continue
		}
		log.Printf("[cron] summarized context for %s", userID)
	}
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}
