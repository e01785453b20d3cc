package journal

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"botpace/internal/eventbus"
	"botpace/internal/gate"
	"botpace/internal/interaction"
	logx "botpace/pkg/logx"
)

type ServiceConfig struct {
	Store StoreConfig
	// PruneSchedule is a cron spec or descriptor; default "@hourly".
	PruneSchedule string
	// Keep is how far back rows are retained; default 7 days.
	Keep time.Duration
}

// Service drains gate events from the bus into the store and runs the
// cron-scheduled janitor (prune + limiter stats logging).
type Service struct {
	store   *Store
	log     logx.Logger
	bus     eventbus.Bus
	limiter *gate.Limiter

	keep     time.Duration
	schedule string

	c      *cron.Cron
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup
}

func NewService(cfg ServiceConfig, bus eventbus.Bus, limiter *gate.Limiter, log logx.Logger) (*Service, error) {
	store, err := Open(cfg.Store, log)
	if err != nil {
		return nil, err
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = 7 * 24 * time.Hour
	}
	schedule := cfg.PruneSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		log:      log,
		bus:      bus,
		limiter:  limiter,
		keep:     keep,
		schedule: schedule,
	}, nil
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(128,
			gate.EventCompleted, gate.EventRetried, gate.EventRateLimited, gate.EventFailed,
			interaction.EventDeadlineMissed)
		s.unsub = unsub
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drain(runCtx, ch)
		}()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser))
	if _, err := s.c.AddFunc(s.schedule, func() { s.janitor(runCtx) }); err != nil {
		cancel()
		return err
	}
	s.c.Start()
	return nil
}

func (s *Service) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.store.Close()
}

func (s *Service) drain(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			entry, ok := toEntry(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := s.store.Append(wctx, entry); err != nil {
				s.log.Warn("journal append failed", logx.Err(err), logx.String("event", ev.Type))
			}
			cancel()
		}
	}
}

func toEntry(ev eventbus.Event) (Entry, bool) {
	switch data := ev.Data.(type) {
	case gate.SendEvent:
		return Entry{
			At:         ev.Time,
			OpID:       data.OpID,
			ChatID:     data.ChatID,
			Event:      ev.Type,
			Class:      data.Kind,
			Attempts:   data.Attempts,
			RetryAfter: data.RetryAfter,
			Took:       data.Duration,
			Error:      data.Error,
		}, true
	case interaction.MissedEvent:
		return Entry{
			At:     ev.Time,
			OpID:   data.HandlerID,
			ChatID: data.ChatID,
			Event:  ev.Type,
			Took:   data.Elapsed,
			Error:  data.Error,
		}, true
	default:
		return Entry{}, false
	}
}

func (s *Service) janitor(ctx context.Context) {
	cutoff := time.Now().Add(-s.keep)
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.store.Prune(pctx, cutoff)
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Info("journal pruned", logx.Int64("rows", n), logx.Time("cutoff", cutoff))
	}

	if s.limiter != nil {
		st := s.limiter.Stats()
		s.log.Debug("limiter stats",
			logx.Float64("global_tokens", st.GlobalTokens),
			logx.Int("chats", st.Chats),
			logx.Int("starved", st.Starved))
	}
}
