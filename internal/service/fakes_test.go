package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/lock"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/mailer"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/repository"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/retry"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/service"
)

// memStore keeps campaigns and recipient logs in memory with the same
// transition rules as the Postgres repositories.
type memStore struct {
	mu        sync.Mutex
	now       func() time.Time
	campaigns map[string]*model.Campaign
	logs      map[string][]*model.RecipientLog
	seq       int64
	recorded  []string
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now, campaigns: map[string]*model.Campaign{}, logs: map[string][]*model.RecipientLog{}}
}

var (
	_ repository.CampaignRepositoryInterface     = (*memStore)(nil)
	_ repository.RecipientLogRepositoryInterface = (*memStore)(nil)
)

func (m *memStore) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (m *memStore) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range m.campaigns {
		if status == "" || c.Status == status {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

func (m *memStore) ListSending(_ context.Context) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.Status == model.CampaignSending {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RecomputeCounters(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	m.recompute(c)
	cp := *c
	return &cp, nil
}

func (m *memStore) recompute(c *model.Campaign) {
	c.TotalRecipients, c.SentCount, c.FailedCount, c.PendingCount = 0, 0, 0, 0
	for _, l := range m.logs[c.ID] {
		c.TotalRecipients++
		switch l.Status {
		case model.LogSent:
			c.SentCount++
		case model.LogFailed:
			c.FailedCount++
		default:
			c.PendingCount++
		}
	}
}

func (m *memStore) Finalize(_ context.Context, id string) (*model.Campaign, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, false, appErrors.NewCampaignNotFound(id)
	}
	if c.Status != model.CampaignSending || c.PendingCount != 0 {
		cp := *c
		return &cp, false, nil
	}
	c.Status = model.ResolveStatus(c.TotalRecipients, c.SentCount, c.FailedCount)
	if c.CompletedAt == nil {
		at := m.now()
		c.CompletedAt = &at
	}
	cp := *c
	return &cp, true, nil
}

func (m *memStore) Submit(_ context.Context, campaignID string, recipients []model.Recipient, retrying bool) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	if !retrying {
		submitted := make(map[string]bool, len(recipients))
		for _, r := range recipients {
			submitted[r.ID] = true
		}
		kept := m.logs[campaignID][:0]
		for _, l := range m.logs[campaignID] {
			if submitted[l.RecipientID] {
				kept = append(kept, l)
			}
		}
		m.logs[campaignID] = kept
	}
	for _, r := range recipients {
		existing := m.find(campaignID, r.ID)
		if existing == nil {
			m.seq++
			m.logs[campaignID] = append(m.logs[campaignID], &model.RecipientLog{
				ID: m.seq, CampaignID: campaignID, RecipientID: r.ID,
				Name: r.Name, Email: r.Email, Course: r.Course,
				Status: model.LogPending, CreatedAt: m.now(), UpdatedAt: m.now(),
			})
			continue
		}
		if retrying && existing.Status == model.LogSent {
			continue
		}
		existing.Name, existing.Email, existing.Course = r.Name, r.Email, r.Course
		existing.Status = model.LogPending
		existing.ErrorMessage = ""
		existing.UpdatedAt = m.now()
		if !retrying {
			existing.Attempts = 0
			existing.SentAt = nil
		}
	}
	m.recompute(c)
	c.Status = model.CampaignSending
	c.CompletedAt = nil
	cp := *c
	return &cp, nil
}

func (m *memStore) find(campaignID, recipientID string) *model.RecipientLog {
	for _, l := range m.logs[campaignID] {
		if l.RecipientID == recipientID {
			return l
		}
	}
	return nil
}

func (m *memStore) RecordDelivery(_ context.Context, campaignID string, d model.Delivery) (bool, error) {
	if d.Status != model.LogSent && d.Status != model.LogFailed {
		return false, fmt.Errorf("delivery status %q is not terminal", d.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.find(campaignID, d.RecipientID)
	if l == nil || l.Status != model.LogPending {
		return false, nil
	}
	m.recorded = append(m.recorded, d.RecipientID)
	l.Status = d.Status
	l.ErrorMessage = d.Error
	l.Attempts += d.Attempts
	l.SentAt = d.SentAt
	l.UpdatedAt = m.now()

	c := m.campaigns[campaignID]
	if d.Status == model.LogSent {
		c.SentCount++
	} else {
		c.FailedCount++
	}
	c.PendingCount--
	return true, nil
}

func (m *memStore) ListPending(ctx context.Context, campaignID string) ([]model.RecipientLog, error) {
	return m.ListByStatus(ctx, campaignID, model.LogPending, 0, 1<<30)
}

func (m *memStore) ListByStatus(_ context.Context, campaignID, status string, offset, limit int) ([]model.RecipientLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.RecipientLog{}
	for _, l := range m.logs[campaignID] {
		if status == "" || l.Status == status {
			out = append(out, *l)
		}
	}
	if offset >= len(out) {
		return []model.RecipientLog{}, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *memStore) Stats(_ context.Context, campaignID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{model.LogPending: 0, model.LogSent: 0, model.LogFailed: 0}
	for _, l := range m.logs[campaignID] {
		stats[l.Status]++
	}
	return stats, nil
}

func (m *memStore) LastActivity(_ context.Context, campaignID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, l := range m.logs[campaignID] {
		if l.Status == model.LogPending {
			continue
		}
		if last == nil || l.UpdatedAt.After(*last) {
			at := l.UpdatedAt
			last = &at
		}
	}
	return last, nil
}

func (m *memStore) log(campaignID, recipientID string) model.RecipientLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.find(campaignID, recipientID)
}

func (m *memStore) hasLog(campaignID, recipientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(campaignID, recipientID) != nil
}

// fakeSender replays scripted errors per recipient address; an address with
// no script left is delivered.
type fakeSender struct {
	mu       sync.Mutex
	script   map[string][]error
	attempts map[string]int
	sent     []*mailer.Message
	closed   int
}

func newFakeSender() *fakeSender {
	return &fakeSender{script: map[string][]error{}, attempts: map[string]int{}}
}

func (f *fakeSender) fail(email string, errs ...error) { f.script[email] = errs }

func (f *fakeSender) Send(_ context.Context, msg *mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	to := msg.To
	f.attempts[to]++
	if errs := f.script[to]; len(errs) > 0 {
		f.script[to] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeOpener struct {
	sender *fakeSender
	err    error
	opened int
}

func (o *fakeOpener) Open(context.Context, model.SMTPSettings, string) (service.MailSender, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.sender, nil
}

// taskQueue records published tasks; drain runs them one at a time the way a
// single worker would.
type taskQueue struct {
	mu    sync.Mutex
	tasks []model.ChunkTask
	seen  []model.ChunkTask
}

func (q *taskQueue) Publish(_ context.Context, task model.ChunkTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	q.seen = append(q.seen, task)
	return nil
}

func (q *taskQueue) next() (model.ChunkTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return model.ChunkTask{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *taskQueue) drain(ctx context.Context, s *service.ChunkScheduler) error {
	for i := 0; i < 1000; i++ {
		t, ok := q.next()
		if !ok {
			return nil
		}
		if err := s.RunChunk(ctx, t); err != nil {
			return err
		}
	}
	return errors.New("queue did not drain")
}

type staticSettings struct {
	settings *model.SMTPSettings
	err      error
}

func (s staticSettings) Get(context.Context) (*model.SMTPSettings, error) { return s.settings, s.err }

type staticSecrets map[string]string

func (s staticSecrets) Password(username string) (string, error) {
	if pw, ok := s[username]; ok {
		return pw, nil
	}
	return "", appErrors.ErrMissingCredentials
}

type memTemplates map[string]model.Template

func (m memTemplates) GetByID(_ context.Context, id string) (*model.Template, error) {
	t, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", appErrors.ErrTemplateNotFound, id)
	}
	return &t, nil
}

type memDirectory map[string]model.Recipient

func (m memDirectory) GetByIDs(_ context.Context, ids []string) ([]model.Recipient, error) {
	out := []model.Recipient{}
	for _, id := range ids {
		if r, ok := m[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// harness wires a scheduler over the fakes.
type harness struct {
	store     *memStore
	sender    *fakeSender
	opener    *fakeOpener
	queue     *taskQueue
	scheduler *service.ChunkScheduler
	sleeps    []time.Duration
	clock     time.Time
}

var relay = model.SMTPSettings{
	Host: "smtp.test", Port: 2525, Security: model.SecurityNone,
	Username: "mailer", FromName: "Outreach Desk", FromEmail: "desk@ignou.test",
}

func newHarness(chunkSize int) *harness {
	h := &harness{clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	now := func() time.Time { return h.clock }
	h.store = newMemStore(now)
	h.sender = newFakeSender()
	h.opener = &fakeOpener{sender: h.sender}
	h.queue = &taskQueue{}

	policy := retry.New(3, 5*time.Second, 10*time.Second)
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}

	log := logger.Nop()
	h.scheduler = &service.ChunkScheduler{
		Campaigns: h.store,
		Logs:      h.store,
		Settings:  staticSettings{settings: &relay},
		Secrets:   staticSecrets{"mailer": "hunter2"},
		Queue:     h.queue,
		Locker:    lock.NewLocalLocker(),
		Processor: &service.ChunkProcessor{
			Logs:     h.store,
			Opener:   h.opener,
			Composer: mailer.NewComposer(),
			Retry:    policy,
			Log:      log,
			Now:      now,
		},
		ChunkSize: chunkSize,
		Log:       log,
	}
	return h
}

func (h *harness) campaign(id string) {
	_ = h.store.Create(context.Background(), &model.Campaign{ID: id, Name: "Admissions " + id, TemplateID: "tpl-1"})
}

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{
			ID:     fmt.Sprintf("r%02d", i+1),
			Name:   fmt.Sprintf("Learner %d", i+1),
			Email:  fmt.Sprintf("learner%02d@ignou.test", i+1),
			Course: "MCA",
		}
	}
	return out
}

var welcome = model.Template{ID: "tpl-1", Subject: "Welcome {{name}}", Body: "Dear {{name}},\nYour {{course}} session starts soon."}
