package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

const dumpInterval = 5 * time.Second

// AppliedRecordList counts how often each rule was reported applied per host
// and periodically dumps the table to a file.
type AppliedRecordList struct {
	recordAddChan chan *AppliedRecord
	records       map[string]*AppliedRecord
	mu            sync.RWMutex

	dumpRecords []*AppliedRecord
	dumpFile    string
	dumpWriter  *bufio.Writer
}

type AppliedRecord struct {
	RuleID   string    `json:"ruleId"`
	RuleName string    `json:"ruleName,omitempty"`
	Host     string    `json:"host"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

func (r *AppliedRecord) key() string {
	return r.RuleID + "|" + r.Host
}

func NewAppliedRecordList(dumpFile string) *AppliedRecordList {
	return &AppliedRecordList{
		recordAddChan: make(chan *AppliedRecord, 100),
		records:       make(map[string]*AppliedRecord, 300),
		dumpRecords:   make([]*AppliedRecord, 0, 300),
		dumpFile:      dumpFile,
		dumpWriter:    bufio.NewWriter(nil),
	}
}

// Run drains queued records and dumps until ctx is done, then dumps once more.
func (l *AppliedRecordList) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case record := <-l.recordAddChan:
				l.Add(record)
			case <-ticker.C:
				l.Dump()
			case <-ctx.Done():
				l.Dump()
				return
			}
		}
	}()
}

// Record queues r without blocking; it is dropped when the queue is full.
func (l *AppliedRecordList) Record(r *AppliedRecord) {
	select {
	case l.recordAddChan <- r:
	default:
		slog.Debug("Applied record dropped", slog.String("rule", r.RuleID), slog.String("host", r.Host))
	}
}

func (l *AppliedRecordList) Add(record *AppliedRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := record.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	if r, exists := l.records[record.key()]; exists {
		r.Count++
		r.RuleName = record.RuleName
		r.LastSeen = seen
	} else {
		l.records[record.key()] = &AppliedRecord{
			RuleID:   record.RuleID,
			RuleName: record.RuleName,
			Host:     record.Host,
			Count:    1,
			LastSeen: seen,
		}
	}
}

// Records returns a copy of the table, most applied first.
func (l *AppliedRecordList) Records() []AppliedRecord {
	l.mu.RLock()
	out := make([]AppliedRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].key() < out[j].key()
	})
	return out
}

func (l *AppliedRecordList) Dump() {
	if l.dumpFile == "" {
		return
	}
	f, err := os.Create(l.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	l.dumpRecords = l.dumpRecords[:0]
	l.mu.RLock()
	for _, record := range l.records {
		l.dumpRecords = append(l.dumpRecords, record)
	}
	l.mu.RUnlock()

	sort.SliceStable(l.dumpRecords, func(i, j int) bool {
		if l.dumpRecords[i].Count != l.dumpRecords[j].Count {
			return l.dumpRecords[i].Count > l.dumpRecords[j].Count
		}
		return l.dumpRecords[i].key() < l.dumpRecords[j].key()
	})

	l.dumpWriter.Reset(f)
	defer func() {
		if err := l.dumpWriter.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, record := range l.dumpRecords {
		_, err := fmt.Fprintf(l.dumpWriter, "%s %s %d %s\n",
			record.RuleID, record.Host, record.Count, record.LastSeen.Format(time.RFC3339))
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
}
