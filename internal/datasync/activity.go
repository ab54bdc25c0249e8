package datasync

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/merge"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

const (
	// MaxUserLogs is how many activity log entries the document keeps.
	MaxUserLogs = 20

	// OnlineWindow is how recent a heartbeat must be for a user to count
	// as online.
	OnlineWindow = 5 * time.Minute
)

// LogUserAction appends a login or logout entry to the remote activity log.
func (s *Service) LogUserAction(ctx context.Context, user schema.User, action string) error {
	return s.appendLog(ctx, schema.UserLog{
		UserID:   user.ID,
		UserName: user.Name,
		Role:     user.Role,
		Action:   action,
	})
}

// LogPageVisit appends a page visit entry to the remote activity log.
func (s *Service) LogPageVisit(ctx context.Context, user schema.User, page, previous string) error {
	return s.appendLog(ctx, schema.UserLog{
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		Action:       schema.ActionPageVisit,
		PageName:     page,
		PreviousPage: previous,
	})
}

// appendLog reads the remote log, appends entry, keeps the latest
// MaxUserLogs entries and writes the result back. Nothing is written for a
// document that does not exist yet.
func (s *Service) appendLog(ctx context.Context, entry schema.UserLog) error {
	docID := s.SchoolID()
	if docID == "" {
		return ErrNotBound
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = s.now().UTC().Format(time.RFC3339)
	if err := schema.Validate(entry); err != nil {
		return err
	}

	doc, err := s.remote.ReadDocument(ctx, docID, schema.CategoryUserLogs)
	if err != nil {
		return fmt.Errorf("failed to read user logs: %w", err)
	}
	if doc == nil {
		return nil
	}

	logs := append(doc.UserLogs, entry)
	var deletions map[schema.Category][]string
	if extra := len(logs) - MaxUserLogs; extra > 0 {
		pruned := make([]string, 0, extra)
		for _, l := range logs[:extra] {
			pruned = append(pruned, l.ID)
		}
		deletions = map[schema.Category][]string{schema.CategoryUserLogs: pruned}
		logs = logs[extra:]
	}

	updates := &schema.Snapshot{UserLogs: logs}
	if err := s.remote.WriteTransaction(ctx, docID, updates, deletions); err != nil {
		return fmt.Errorf("failed to write user log: %w", err)
	}

	s.mu.Lock()
	if s.docID == docID {
		merge.Apply(s.working, s.baseline, updates, merge.Options{Pending: s.pending, Tracker: s.tracker})
		s.persistReconciledLocked(ctx, []schema.Category{schema.CategoryUserLogs})
	}
	s.mu.Unlock()
	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote, Categories: []schema.Category{schema.CategoryUserLogs}})
	return nil
}

// SendHeartbeat records that userID is active now. Other users' sessions
// are left untouched.
func (s *Service) SendHeartbeat(ctx context.Context, userID int64) error {
	docID := s.SchoolID()
	if docID == "" {
		return ErrNotBound
	}
	key := strconv.FormatInt(userID, 10)
	ts := s.now().UTC().Format(time.RFC3339)

	updates := &schema.Snapshot{ActiveSessions: map[string]string{key: ts}}
	if err := s.remote.WriteTransaction(ctx, docID, updates, nil); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}

	s.mu.Lock()
	if s.docID == docID {
		for _, ds := range []*schema.Dataset{s.working, s.baseline} {
			sessions := maps.Clone(ds.ActiveSessions)
			if sessions == nil {
				sessions = make(map[string]string)
			}
			sessions[key] = ts
			ds.ActiveSessions = sessions
		}
		s.tracker.Recheck(schema.CategoryActiveSessions, s.working.ActiveSessions, s.baseline.ActiveSessions)
		s.persistReconciledLocked(ctx, []schema.Category{schema.CategoryActiveSessions})
	}
	s.mu.Unlock()
	return nil
}

// OnlineUsers returns the known users with a heartbeat within OnlineWindow
// of now, ordered by user id.
func (s *Service) OnlineUsers(now time.Time) []schema.OnlineUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []schema.OnlineUser
	for key, ts := range s.working.ActiveSessions {
		last, err := time.Parse(time.RFC3339, ts)
		if err != nil || now.Sub(last) >= OnlineWindow {
			continue
		}
		user, ok := schema.FindRecord(s.working.Users, key)
		if !ok {
			continue
		}
		out = append(out, schema.OnlineUser{
			UserID:     user.ID,
			UserName:   user.Name,
			Role:       user.Role,
			LastActive: ts,
		})
	}
	slices.SortFunc(out, func(a, b schema.OnlineUser) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}
