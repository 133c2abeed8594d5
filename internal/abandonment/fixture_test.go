package abandonment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/cart"
	"github.com/angelmondragon/cartrecovery-backend/internal/email"
	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []email.Message
	err     error
	failFor map[string]error
}

func (s *fakeSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[msg.To]; err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeGuard struct {
	mu     sync.Mutex
	claims map[string]bool
}

func (g *fakeGuard) Claim(_ context.Context, scope, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := scope + ":" + id
	if g.claims[key] {
		return false, nil
	}
	g.claims[key] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, scope, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, scope+":"+id)
	return nil
}

func (g *fakeGuard) held(scope, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claims[scope+":"+id]
}

type fakeLinker struct{}

func (fakeLinker) CreateShareLink(_ context.Context, cartID uuid.UUID) (string, error) {
	return "tok-" + cartID.String(), nil
}

type fakeContacts struct {
	contacts map[uuid.UUID]Contact
	err      error
}

func (c *fakeContacts) LookupContact(_ context.Context, userID uuid.UUID) (Contact, error) {
	if c.err != nil {
		return Contact{}, c.err
	}
	contact, ok := c.contacts[userID]
	if !ok {
		return Contact{}, errors.New("unknown user")
	}
	return contact, nil
}

type openPause struct{}

func (openPause) Pause(context.Context) error            { return nil }
func (openPause) Resume(context.Context) error           { return nil }
func (openPause) IsPaused(context.Context) (bool, error) { return false, nil }

type recoveryFixture struct {
	db        *gorm.DB
	carts     *cart.Repository
	records   *Repository
	queue     *queue.Queue
	scheduler *Scheduler
	detector  *Detector
	processor *Processor
	sender    *fakeSender
	guard     *fakeGuard
	contacts  *fakeContacts
	now       time.Time
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	dsn := "file:abandonment_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "abandonment-test", Level: zerolog.Disabled, Output: io.Discard})
	f := &recoveryFixture{
		db:       conn,
		carts:    cart.NewRepository(conn),
		records:  NewRepository(conn),
		sender:   &fakeSender{failFor: map[string]error{}},
		guard:    &fakeGuard{claims: map[string]bool{}},
		contacts: &fakeContacts{contacts: map[uuid.UUID]Contact{}},
		now:      time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.queue, err = queue.New(queue.Params{
		Store:  queue.NewGormStore(conn),
		Pause:  openPause{},
		Logger: logg,
		Now:    clock,
	})
	require.NoError(t, err)

	f.scheduler, err = NewScheduler(SchedulerParams{
		Records: f.records,
		Queue:   f.queue,
		Logger:  logg,
		Now:     clock,
	})
	require.NoError(t, err)

	f.detector, err = NewDetector(DetectorParams{
		Carts:         f.carts,
		Records:       f.records,
		Scheduler:     f.scheduler,
		Contacts:      f.contacts,
		Logger:        logg,
		IdleThreshold: 30 * time.Minute,
		Now:           clock,
	})
	require.NoError(t, err)

	f.processor, err = NewProcessor(ProcessorParams{
		Records:         f.records,
		Carts:           f.carts,
		Links:           fakeLinker{},
		Sender:          f.sender,
		Guard:           f.guard,
		Logger:          logg,
		FromAddress:     "shop@example.com",
		RecoveryBaseURL: "https://shop.test/cart/",
		Now:             clock,
	})
	require.NoError(t, err)
	return f
}

func (f *recoveryFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// seedCart stores a user cart holding two units at 1500 that has been idle
// for idleFor. The user gets the given email in the contact directory.
func (f *recoveryFixture) seedCart(t *testing.T, idleFor time.Duration, contactEmail string) *models.Cart {
	t.Helper()
	userID := uuid.New()
	product := &models.Product{Slug: "p-" + uuid.NewString(), Title: "Lamp", PriceCents: 1500, Stock: 10, IsActive: true}
	require.NoError(t, f.db.Create(product).Error)
	c := &models.Cart{
		UserID:         &userID,
		SubtotalCents:  3000,
		TotalCents:     3000,
		LastActivityAt: f.now.Add(-idleFor),
		Items: []models.CartItem{{
			ProductID:  product.ID,
			Quantity:   2,
			PriceCents: 1500,
		}},
	}
	require.NoError(t, f.db.Create(c).Error)
	if contactEmail != "" {
		f.contacts.contacts[userID] = Contact{Email: contactEmail}
	}
	return c
}

func (f *recoveryFixture) record(t *testing.T, cartID uuid.UUID) *models.AbandonmentRecord {
	t.Helper()
	record, err := f.records.FindByCartID(context.Background(), cartID)
	require.NoError(t, err)
	return record
}

func (f *recoveryFixture) reminderJobs(t *testing.T) []models.QueueJob {
	t.Helper()
	var jobs []models.QueueJob
	require.NoError(t, f.db.Where("kind = ?", queue.KindSendReminder).Order("priority DESC").Find(&jobs).Error)
	return jobs
}
