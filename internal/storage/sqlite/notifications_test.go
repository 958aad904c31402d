package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yegors/arrival-watch/pkg/logger"
)

func newTestStorage(t *testing.T) *NotificationStorage {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewNotificationStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("NewNotificationStorage error: %v", err)
	}
	return s
}

func TestStoreAndQueryNotifications(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	records := []*NotificationRecord{
		{Registration: "VN-A323", Callsign: "HVN240", Target: "g", Committed: true, Delivered: true, Message: "one", CreatedAt: base},
		{Registration: "VN-A331", Target: "g", Degraded: true, Message: "two", CreatedAt: base.Add(time.Minute)},
		{Registration: "VN-A323", Target: "g", Error: "boom", Message: "three", CreatedAt: base.Add(2*time.Minute + 500*time.Millisecond)},
	}
	for _, r := range records {
		if err := s.StoreNotification(ctx, r); err != nil {
			t.Fatalf("StoreNotification error: %v", err)
		}
		if r.ID == "" {
			t.Fatal("ID not assigned")
		}
	}

	recent, err := s.GetRecentNotifications(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecentNotifications error: %v", err)
	}
	if len(recent) != 2 || recent[0].Message != "three" || recent[1].Message != "two" {
		t.Fatalf("unexpected recent order: %+v", recent)
	}
	if !recent[1].Degraded || recent[0].Error != "boom" {
		t.Fatalf("flags not round-tripped: %+v %+v", recent[0], recent[1])
	}
	if !recent[0].CreatedAt.Equal(records[2].CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", recent[0].CreatedAt, records[2].CreatedAt)
	}

	byReg, err := s.GetNotificationsByRegistration(ctx, "VN-A323", 10)
	if err != nil {
		t.Fatalf("GetNotificationsByRegistration error: %v", err)
	}
	if len(byReg) != 2 {
		t.Fatalf("got %d records for VN-A323, want 2", len(byReg))
	}
	if byReg[1].Callsign != "HVN240" || !byReg[1].Delivered || !byReg[1].Committed {
		t.Fatalf("unexpected oldest record: %+v", byReg[1])
	}

	none, err := s.GetNotificationsByRegistration(ctx, "VN-A999", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result, got %v, %v", none, err)
	}
}
