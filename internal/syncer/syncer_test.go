package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/moromii/receipt-ledger/internal/expense"
)

// mockSnapshotStore is a mock implementation of SnapshotStore
type mockSnapshotStore struct {
	mu       sync.Mutex
	snapshot *Snapshot
	loadErr  error
	saveErr  error
	loaded   int
	saved    int
	block    chan struct{} // when set, Load blocks until closed
}

func (m *mockSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.snapshot == nil {
		return &Snapshot{Version: SnapshotVersion}, nil
	}
	return m.snapshot, nil
}

func (m *mockSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = snap
	return nil
}

// mockDB is a mock implementation of expense.DB
type mockDB struct {
	records    map[string]expense.Record
	listErr    error
	replaceErr error
	replaced   int
}

func newMockDB() *mockDB {
	return &mockDB{records: make(map[string]expense.Record)}
}

func (m *mockDB) SaveRecord(rec *expense.Record) error {
	m.records[rec.ID] = *rec
	return nil
}

func (m *mockDB) GetRecord(id string) (*expense.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return &rec, nil
}

func (m *mockDB) ListRecords() ([]expense.Record, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	recs := make([]expense.Record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (m *mockDB) ReplaceAll(recs []expense.Record) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replaced++
	m.records = make(map[string]expense.Record, len(recs))
	for _, rec := range recs {
		m.records[rec.ID] = rec
	}
	return nil
}

func (m *mockDB) Close() error { return nil }

var _ = Describe("Syncer", func() {
	var (
		remote    *mockSnapshotStore
		db        *mockDB
		published [][]expense.Record
		s         *Syncer
		err       error
		t1        time.Time
		t2        time.Time
	)

	BeforeEach(func() {
		remote = &mockSnapshotStore{}
		db = newMockDB()
		published = nil
		t1 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		t2 = t1.Add(time.Hour)
		s = NewWithClock(remote, db, time.Minute, func(recs []expense.Record) {
			published = append(published, recs)
		}, func() time.Time { return t2 })
	})

	JustBeforeEach(func() {
		err = s.Sync(context.Background())
	})

	When("the remote copy of a shared record is newer", func() {
		BeforeEach(func() {
			localRec := record("1", "2024-05-01", t1)
			localRec.Memo = "local"
			Expect(db.SaveRecord(&localRec)).To(Succeed())

			remoteRec := record("1", "2024-05-01", t2)
			remoteRec.Memo = "remote"
			remote.snapshot = NewSnapshot([]expense.Record{remoteRec}, t1)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep the remote record locally", func() {
			Expect(db.records["1"].Memo).To(Equal("remote"))
		})

		It("should write the merged set back to the drive store", func() {
			Expect(remote.snapshot.Expenses).To(HaveLen(1))
			Expect(remote.snapshot.Expenses[0].Memo).To(Equal("remote"))
		})

		It("should stamp the snapshot", func() {
			Expect(remote.snapshot.LastModified).To(Equal(t2.Format(time.RFC3339)))
			Expect(remote.snapshot.Version).To(Equal(SnapshotVersion))
		})

		It("should publish the merged collection once", func() {
			Expect(published).To(HaveLen(1))
			Expect(published[0]).To(HaveLen(1))
		})

		It("should record the sync time", func() {
			Expect(s.LastSync()).To(Equal(t2))
		})
	})

	When("the remote fetch fails", func() {
		BeforeEach(func() {
			rec := record("1", "2024-05-01", t1)
			Expect(db.SaveRecord(&rec)).To(Succeed())
			remote.loadErr = errors.New("network down")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("network down")))
		})

		It("leaves the remote store untouched", func() {
			Expect(remote.saved).To(BeZero())
		})

		It("leaves the local store untouched", func() {
			Expect(db.replaced).To(BeZero())
		})

		It("publishes nothing", func() {
			Expect(published).To(BeEmpty())
		})
	})

	When("the remote write fails", func() {
		BeforeEach(func() {
			rec := record("1", "2024-05-01", t1)
			Expect(db.SaveRecord(&rec)).To(Succeed())
			remote.saveErr = errors.New("quota exceeded")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("quota exceeded")))
		})

		It("does not write the local store", func() {
			Expect(db.replaced).To(BeZero())
		})
	})

	When("a cycle is already in flight", func() {
		var (
			release chan struct{}
			done    chan error
		)

		BeforeEach(func() {
			release = make(chan struct{})
			remote.block = release
			done = make(chan error, 1)
			go func() {
				done <- s.Sync(context.Background())
			}()
			// Wait for the first cycle to take the guard
			Eventually(func() bool {
				if s.mu.TryLock() {
					s.mu.Unlock()
					return false
				}
				return true
			}).Should(BeTrue())
		})

		AfterEach(func() {
			close(release)
			Eventually(done).Should(Receive())
		})

		It("drops the second request", func() {
			Expect(err).To(MatchError(ErrSyncInProgress))
		})
	})
})
