package trigger

import (
	"context"
	"testing"
)

type nopBatch struct{}

func (nopBatch) Run(ctx context.Context) (*BatchReport, error)   { return &BatchReport{}, nil }
func (nopBatch) Start(ctx context.Context) (*BatchReport, error) { return &BatchReport{}, nil }
func (nopBatch) Report(string) (*BatchReport, bool)              { return nil, false }

func TestNewScheduler(t *testing.T) {
	c, err := NewScheduler(context.Background(), "0 */5 * * * *", nopBatch{})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}

	if _, err := NewScheduler(context.Background(), "every now and then", nopBatch{}); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}
