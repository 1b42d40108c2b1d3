package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

const storageScopeName = "github.com/beadsync/beadsync/storage"

// InstrumentedStorage decorates a storage.Storage with a span per call and
// the bd.storage.* metrics. Build one with WrapStorage.
type InstrumentedStorage struct {
	inner      storage.Storage
	tracer     trace.Tracer
	ops        metric.Int64Counter
	dur        metric.Float64Histogram
	errs       metric.Int64Counter
	issueGauge metric.Int64Gauge
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// WrapStorage returns s decorated with instrumentation, or s itself when
// telemetry is disabled.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	return newInstrumented(s)
}

func newInstrumented(s storage.Storage) *InstrumentedStorage {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("bd.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("bd.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("bd.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	issueGauge, _ := m.Int64Gauge("bd.issue.count",
		metric.WithDescription("Issues by status, sampled from GetStatistics"),
	)
	return &InstrumentedStorage{
		inner:      s,
		tracer:     Tracer(storageScopeName),
		ops:        ops,
		dur:        dur,
		errs:       errs,
		issueGauge: issueGauge,
	}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStorage) Unwrap() storage.Storage { return s.inner }

func (s *InstrumentedStorage) start(ctx context.Context, name string, attrs []attribute.KeyValue) (context.Context, trace.Span, []attribute.KeyValue) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, all
}

func (s *InstrumentedStorage) end(ctx context.Context, span trace.Span, began time.Time, err error, attrs []attribute.KeyValue) {
	s.dur.Record(ctx, float64(time.Since(began).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// observe runs fn inside a span named after the operation.
func observe(ctx context.Context, s *InstrumentedStorage, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span, all := s.start(ctx, name, attrs)
	began := time.Now()
	err := fn(ctx)
	s.end(ctx, span, began, err, all)
	return err
}

// observeValue is observe for operations that return a value.
func observeValue[T any](ctx context.Context, s *InstrumentedStorage, name string, fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	var v T
	err := observe(ctx, s, name, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	}, attrs...)
	return v, err
}

func issueAttr(id string) attribute.KeyValue { return attribute.String("bd.issue.id", id) }
func actorAttr(actor string) attribute.KeyValue { return attribute.String("bd.actor", actor) }

// Issues

func (s *InstrumentedStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	return observe(ctx, s, "CreateIssue", func(ctx context.Context) error {
		return s.inner.CreateIssue(ctx, issue, actor)
	}, actorAttr(actor), attribute.String("bd.issue.type", string(issue.IssueType)))
}

func (s *InstrumentedStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	return observeValue(ctx, s, "GetIssue", func(ctx context.Context) (*types.Issue, error) {
		return s.inner.GetIssue(ctx, id)
	}, issueAttr(id))
}

func (s *InstrumentedStorage) GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error) {
	return observeValue(ctx, s, "GetIssueByExternalRef", func(ctx context.Context) (*types.Issue, error) {
		return s.inner.GetIssueByExternalRef(ctx, externalRef)
	})
}

func (s *InstrumentedStorage) ResolveID(ctx context.Context, partial string) (string, error) {
	return observeValue(ctx, s, "ResolveID", func(ctx context.Context) (string, error) {
		return s.inner.ResolveID(ctx, partial)
	}, attribute.String("bd.id.partial", partial))
}

func (s *InstrumentedStorage) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	return observe(ctx, s, "UpdateIssue", func(ctx context.Context) error {
		return s.inner.UpdateIssue(ctx, id, updates, actor)
	}, issueAttr(id), actorAttr(actor), attribute.Int("bd.update.count", len(updates)))
}

func (s *InstrumentedStorage) UpdateIssueIf(ctx context.Context, id string, cond storage.Precondition, updates map[string]interface{}, actor string) error {
	return observe(ctx, s, "UpdateIssueIf", func(ctx context.Context) error {
		return s.inner.UpdateIssueIf(ctx, id, cond, updates, actor)
	}, issueAttr(id), actorAttr(actor), attribute.Int("bd.update.count", len(updates)))
}

func (s *InstrumentedStorage) CloseIssue(ctx context.Context, id string, reason string, actor string, session string) error {
	return observe(ctx, s, "CloseIssue", func(ctx context.Context) error {
		return s.inner.CloseIssue(ctx, id, reason, actor, session)
	}, issueAttr(id), actorAttr(actor))
}

func (s *InstrumentedStorage) ReopenIssue(ctx context.Context, id string, actor string) error {
	return observe(ctx, s, "ReopenIssue", func(ctx context.Context) error {
		return s.inner.ReopenIssue(ctx, id, actor)
	}, issueAttr(id), actorAttr(actor))
}

func (s *InstrumentedStorage) DeleteIssue(ctx context.Context, id string, reason string, actor string) error {
	return observe(ctx, s, "DeleteIssue", func(ctx context.Context) error {
		return s.inner.DeleteIssue(ctx, id, reason, actor)
	}, issueAttr(id), actorAttr(actor))
}

func (s *InstrumentedStorage) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	return observeValue(ctx, s, "SearchIssues", func(ctx context.Context) ([]*types.Issue, error) {
		return s.inner.SearchIssues(ctx, query, filter)
	}, attribute.Bool("bd.query.text", query != ""), attribute.Int("bd.query.limit", filter.Limit))
}

func (s *InstrumentedStorage) CountIssues(ctx context.Context) (int, error) {
	return observeValue(ctx, s, "CountIssues", s.inner.CountIssues)
}

// Dependencies

func (s *InstrumentedStorage) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	return observe(ctx, s, "AddDependency", func(ctx context.Context) error {
		return s.inner.AddDependency(ctx, dep, actor)
	}, issueAttr(dep.IssueID), attribute.String("bd.dep.target", dep.DependsOnID), attribute.String("bd.dep.type", string(dep.Type)))
}

func (s *InstrumentedStorage) RemoveDependency(ctx context.Context, issueID, dependsOnID string, actor string) error {
	return observe(ctx, s, "RemoveDependency", func(ctx context.Context) error {
		return s.inner.RemoveDependency(ctx, issueID, dependsOnID, actor)
	}, issueAttr(issueID), attribute.String("bd.dep.target", dependsOnID))
}

func (s *InstrumentedStorage) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	return observeValue(ctx, s, "GetDependencyRecords", func(ctx context.Context) ([]*types.Dependency, error) {
		return s.inner.GetDependencyRecords(ctx, issueID)
	}, issueAttr(issueID))
}

func (s *InstrumentedStorage) GetAllDependencyRecords(ctx context.Context) (map[string][]*types.Dependency, error) {
	return observeValue(ctx, s, "GetAllDependencyRecords", s.inner.GetAllDependencyRecords)
}

func (s *InstrumentedStorage) GetDependents(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	return observeValue(ctx, s, "GetDependents", func(ctx context.Context) ([]*types.Dependency, error) {
		return s.inner.GetDependents(ctx, issueID)
	}, issueAttr(issueID))
}

func (s *InstrumentedStorage) GetDependencyTree(ctx context.Context, issueID string, maxDepth int, reverse bool) ([]*types.TreeNode, error) {
	return observeValue(ctx, s, "GetDependencyTree", func(ctx context.Context) ([]*types.TreeNode, error) {
		return s.inner.GetDependencyTree(ctx, issueID, maxDepth, reverse)
	}, issueAttr(issueID), attribute.Int("bd.tree.max_depth", maxDepth), attribute.Bool("bd.tree.reverse", reverse))
}

func (s *InstrumentedStorage) DetectCycles(ctx context.Context) ([][]string, error) {
	return observeValue(ctx, s, "DetectCycles", s.inner.DetectCycles)
}

// Labels

func (s *InstrumentedStorage) AddLabel(ctx context.Context, issueID, label, actor string) error {
	return observe(ctx, s, "AddLabel", func(ctx context.Context) error {
		return s.inner.AddLabel(ctx, issueID, label, actor)
	}, issueAttr(issueID), attribute.String("bd.label", label))
}

func (s *InstrumentedStorage) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	return observe(ctx, s, "RemoveLabel", func(ctx context.Context) error {
		return s.inner.RemoveLabel(ctx, issueID, label, actor)
	}, issueAttr(issueID), attribute.String("bd.label", label))
}

func (s *InstrumentedStorage) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	return observeValue(ctx, s, "GetLabels", func(ctx context.Context) ([]string, error) {
		return s.inner.GetLabels(ctx, issueID)
	}, issueAttr(issueID))
}

// Work queries

func (s *InstrumentedStorage) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	return observeValue(ctx, s, "GetReadyWork", func(ctx context.Context) ([]*types.Issue, error) {
		return s.inner.GetReadyWork(ctx, filter)
	}, attribute.Int("bd.query.limit", filter.Limit))
}

func (s *InstrumentedStorage) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	return observeValue(ctx, s, "GetBlockedIssues", s.inner.GetBlockedIssues)
}

func (s *InstrumentedStorage) IsBlocked(ctx context.Context, issueID string) (bool, []string, error) {
	var blockers []string
	blocked, err := observeValue(ctx, s, "IsBlocked", func(ctx context.Context) (bool, error) {
		var (
			blocked bool
			err     error
		)
		blocked, blockers, err = s.inner.IsBlocked(ctx, issueID)
		return blocked, err
	}, issueAttr(issueID))
	return blocked, blockers, err
}

// Comments and events

func (s *InstrumentedStorage) AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	return observeValue(ctx, s, "AddComment", func(ctx context.Context) (*types.Comment, error) {
		return s.inner.AddComment(ctx, issueID, author, text)
	}, issueAttr(issueID), actorAttr(author))
}

func (s *InstrumentedStorage) GetComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	return observeValue(ctx, s, "GetComments", func(ctx context.Context) ([]*types.Comment, error) {
		return s.inner.GetComments(ctx, issueID)
	}, issueAttr(issueID))
}

func (s *InstrumentedStorage) RecordEvent(ctx context.Context, event *types.Event) error {
	return observe(ctx, s, "RecordEvent", func(ctx context.Context) error {
		return s.inner.RecordEvent(ctx, event)
	}, issueAttr(event.IssueID), attribute.String("bd.event.type", string(event.EventType)))
}

func (s *InstrumentedStorage) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	return observeValue(ctx, s, "GetEvents", func(ctx context.Context) ([]*types.Event, error) {
		return s.inner.GetEvents(ctx, issueID, limit)
	}, issueAttr(issueID))
}

// Statistics

func (s *InstrumentedStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats, err := observeValue(ctx, s, "GetStatistics", s.inner.GetStatistics)
	if err == nil && stats != nil {
		for status, n := range map[string]int{
			"open":        stats.OpenIssues,
			"in_progress": stats.InProgressIssues,
			"blocked":     stats.BlockedIssues,
			"closed":      stats.ClosedIssues,
			"deferred":    stats.DeferredIssues,
		} {
			s.issueGauge.Record(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
		}
	}
	return stats, err
}

// Dirty tracking

func (s *InstrumentedStorage) MarkIssueDirty(ctx context.Context, issueID string) error {
	return observe(ctx, s, "MarkIssueDirty", func(ctx context.Context) error {
		return s.inner.MarkIssueDirty(ctx, issueID)
	}, issueAttr(issueID))
}

func (s *InstrumentedStorage) GetDirtyIssues(ctx context.Context) ([]string, error) {
	return observeValue(ctx, s, "GetDirtyIssues", s.inner.GetDirtyIssues)
}

func (s *InstrumentedStorage) GetDirtyIssueCount(ctx context.Context) (int, error) {
	return observeValue(ctx, s, "GetDirtyIssueCount", s.inner.GetDirtyIssueCount)
}

func (s *InstrumentedStorage) ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error {
	return observe(ctx, s, "ClearDirtyIssuesByID", func(ctx context.Context) error {
		return s.inner.ClearDirtyIssuesByID(ctx, issueIDs)
	}, attribute.Int("bd.issue.count", len(issueIDs)))
}

func (s *InstrumentedStorage) GetDirtyMarks(ctx context.Context) (map[string]time.Time, error) {
	return observeValue(ctx, s, "GetDirtyMarks", s.inner.GetDirtyMarks)
}

func (s *InstrumentedStorage) ClearDirtyIssuesExported(ctx context.Context, marks map[string]time.Time) error {
	return observe(ctx, s, "ClearDirtyIssuesExported", func(ctx context.Context) error {
		return s.inner.ClearDirtyIssuesExported(ctx, marks)
	}, attribute.Int("bd.issue.count", len(marks)))
}

// Export hashes

func (s *InstrumentedStorage) GetExportHash(ctx context.Context, issueID string) (string, error) {
	return observeValue(ctx, s, "GetExportHash", func(ctx context.Context) (string, error) {
		return s.inner.GetExportHash(ctx, issueID)
	}, issueAttr(issueID))
}

func (s *InstrumentedStorage) SetExportHashes(ctx context.Context, hashes map[string]string) error {
	return observe(ctx, s, "SetExportHashes", func(ctx context.Context) error {
		return s.inner.SetExportHashes(ctx, hashes)
	}, attribute.Int("bd.issue.count", len(hashes)))
}

func (s *InstrumentedStorage) ClearAllExportHashes(ctx context.Context) error {
	return observe(ctx, s, "ClearAllExportHashes", s.inner.ClearAllExportHashes)
}

// Configuration and metadata

func (s *InstrumentedStorage) SetConfig(ctx context.Context, key, value string) error {
	return observe(ctx, s, "SetConfig", func(ctx context.Context) error {
		return s.inner.SetConfig(ctx, key, value)
	}, attribute.String("bd.config.key", key))
}

func (s *InstrumentedStorage) GetConfig(ctx context.Context, key string) (string, error) {
	return observeValue(ctx, s, "GetConfig", func(ctx context.Context) (string, error) {
		return s.inner.GetConfig(ctx, key)
	}, attribute.String("bd.config.key", key))
}

func (s *InstrumentedStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	return observeValue(ctx, s, "GetAllConfig", s.inner.GetAllConfig)
}

func (s *InstrumentedStorage) SetMetadata(ctx context.Context, key, value string) error {
	return observe(ctx, s, "SetMetadata", func(ctx context.Context) error {
		return s.inner.SetMetadata(ctx, key, value)
	}, attribute.String("bd.metadata.key", key))
}

func (s *InstrumentedStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return observeValue(ctx, s, "GetMetadata", func(ctx context.Context) (string, error) {
		return s.inner.GetMetadata(ctx, key)
	}, attribute.String("bd.metadata.key", key))
}

// Snapshots

func (s *InstrumentedStorage) Snapshot(ctx context.Context, includeTombstones bool) ([]*types.Issue, error) {
	return observeValue(ctx, s, "Snapshot", func(ctx context.Context) ([]*types.Issue, error) {
		return s.inner.Snapshot(ctx, includeTombstones)
	}, attribute.Bool("bd.snapshot.tombstones", includeTombstones))
}

func (s *InstrumentedStorage) SnapshotIssues(ctx context.Context, ids []string) ([]*types.Issue, error) {
	return observeValue(ctx, s, "SnapshotIssues", func(ctx context.Context) ([]*types.Issue, error) {
		return s.inner.SnapshotIssues(ctx, ids)
	}, attribute.Int("bd.issue.count", len(ids)))
}

func (s *InstrumentedStorage) IssueIDs(ctx context.Context) ([]string, error) {
	return observeValue(ctx, s, "IssueIDs", s.inner.IssueIDs)
}

// Transactions

func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return observe(ctx, s, "RunInTransaction", func(ctx context.Context) error {
		return s.inner.RunInTransaction(ctx, fn)
	})
}

// Lifecycle

func (s *InstrumentedStorage) Path() string { return s.inner.Path() }

func (s *InstrumentedStorage) Close() error { return s.inner.Close() }
