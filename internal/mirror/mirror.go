// Package mirror copies store records into a relational database for admin
// tooling. The relay never reads from it.
package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/glebarez/sqlite"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to driver/dsn and migrates the mirror tables.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported mirror driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}

	if driver != DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Device{}, &Room{}, &Transfer{}); err != nil {
		return nil, fmt.Errorf("failed to migrate mirror tables: %w", err)
	}
	return db, nil
}

// Source is what the mirror reconciles from.
type Source interface {
	Snapshot() store.Snapshot
}

type Mirror struct {
	db     *gorm.DB
	bus    EventBus.Bus
	source Source
	log    *logrus.Entry

	mu      sync.Mutex
	sched   *cron.Cron
	running bool
}

func New(db *gorm.DB, bus EventBus.Bus, source Source, log *logrus.Entry) *Mirror {
	return &Mirror{db: db, bus: bus, source: source, log: log}
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Start subscribes to store events and schedules reconciliation on spec.
// An empty spec disables the schedule.
func (m *Mirror) Start(spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if spec != "" {
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
		}
	}

	subs := []struct {
		topic string
		fn    interface{}
	}{
		{store.TopicDeviceChanged, m.onDevice},
		{store.TopicDeviceDeleted, m.onDeviceDeleted},
		{store.TopicRoomChanged, m.onRoom},
		{store.TopicTransferChanged, m.onTransfer},
	}
	for _, sub := range subs {
		if err := m.bus.SubscribeAsync(sub.topic, sub.fn, true); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", sub.topic, err)
		}
	}

	if spec != "" {
		m.sched = cron.New(cron.WithParser(cronParser))
		if _, err := m.sched.AddFunc(spec, func() {
			if err := m.Reconcile(context.Background()); err != nil {
				m.log.WithError(err).Warn("Mirror reconcile failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule reconcile: %w", err)
		}
		m.sched.Start()
	}

	m.running = true
	m.log.WithField("schedule", spec).Info("Mirror started")
	return nil
}

// Stop unsubscribes, waits for queued writes and stops the schedule.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	_ = m.bus.Unsubscribe(store.TopicDeviceChanged, m.onDevice)
	_ = m.bus.Unsubscribe(store.TopicDeviceDeleted, m.onDeviceDeleted)
	_ = m.bus.Unsubscribe(store.TopicRoomChanged, m.onRoom)
	_ = m.bus.Unsubscribe(store.TopicTransferChanged, m.onTransfer)
	m.bus.WaitAsync()

	if m.sched != nil {
		<-m.sched.Stop().Done()
		m.sched = nil
	}
	m.running = false
}

// Reconcile rewrites the mirror from a full snapshot.
func (m *Mirror) Reconcile(ctx context.Context) error {
	snap := m.source.Snapshot()

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deviceIDs := make([]string, 0, len(snap.Devices))
		for _, d := range snap.Devices {
			row := deviceRow(d)
			if err := upsert(tx, &row); err != nil {
				return err
			}
			deviceIDs = append(deviceIDs, d.ID)
		}

		stale := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(deviceIDs) > 0 {
			stale = stale.Where("id NOT IN ?", deviceIDs)
		}
		if err := stale.Delete(&Device{}).Error; err != nil {
			return fmt.Errorf("failed to prune devices: %w", err)
		}

		for _, r := range snap.Rooms {
			row := roomRow(r)
			if err := upsert(tx, &row); err != nil {
				return err
			}
		}
		for _, t := range snap.Transfers {
			row := transferRow(t)
			if err := upsert(tx, &row); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsert(db *gorm.DB, row interface{}) error {
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to upsert %T: %w", row, err)
	}
	return nil
}

func (m *Mirror) onDevice(d store.Device) {
	row := deviceRow(d)
	if err := upsert(m.db, &row); err != nil {
		m.log.WithError(err).WithField("device", d.ID).Warn("Mirror write failed")
	}
}

func (m *Mirror) onDeviceDeleted(id string) {
	if err := m.db.Delete(&Device{}, "id = ?", id).Error; err != nil {
		m.log.WithError(err).WithField("device", id).Warn("Mirror delete failed")
	}
}

func (m *Mirror) onRoom(r store.Room) {
	row := roomRow(r)
	if err := upsert(m.db, &row); err != nil {
		m.log.WithError(err).WithField("room", r.ID).Warn("Mirror write failed")
	}
}

func (m *Mirror) onTransfer(t store.Transfer) {
	row := transferRow(t)
	if err := upsert(m.db, &row); err != nil {
		m.log.WithError(err).WithField("transfer", t.ID).Warn("Mirror write failed")
	}
}
