// Package load implements the Load Orchestrator: the component that drives
// one full run of the engine end to end — file discovery, validation,
// backup, index management, the node and edge passes, plugin invocation,
// and recording the attempt in the Load History Ledger.
package load

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ccdi-dataloader/graphload/internal/errors"
	"github.com/ccdi-dataloader/graphload/internal/graph"
	"github.com/ccdi-dataloader/graphload/internal/history"
	"github.com/ccdi-dataloader/graphload/internal/plugin"
	"github.com/ccdi-dataloader/graphload/internal/prepare"
	"github.com/ccdi-dataloader/graphload/internal/schema"
	"github.com/ccdi-dataloader/graphload/internal/validate"
)

// Options configures one load run.
type Options struct {
	Dataset           string
	SchemaFiles       []string
	PropFile          string
	Mode              graph.LoadMode
	CheatMode         bool
	DryRun            bool
	WipeDB            bool
	NoBackup          bool
	BackupFolder      string
	SplitTransactions bool
	MaxViolations     int
	StrictOneToOne    bool
	ValidationLogPath string
	PluginNames       []string
	PluginParams      map[string]map[string]any
}

// Result summarizes the outcome of one Run call.
type Result struct {
	Counters         graph.WriteCounters
	PluginCounters   *plugin.Counters
	ValidationReport validate.Report
	FilesLoaded      int
	Aborted          bool
	AbortReason      string
}

// Orchestrator drives one load run against a Backend, recording the attempt
// in a Load History Ledger.
type Orchestrator struct {
	backend graph.Backend
	ledger  *history.Ledger
	logger  *logrus.Logger
	limiter *rate.Limiter
	monitor *graph.TimeoutMonitor
	tracker *graph.TimeoutTracker
}

// parentLookupTimeout bounds a single parent-existence check during the edge
// pass; the monitor warns well before this so slow lookups surface in logs
// instead of silently eating the run's wall-clock budget.
const parentLookupTimeout = 5 * time.Second

// NewOrchestrator builds an Orchestrator, throttling batch submission with a
// token-bucket limiter and tracking query timings with a TimeoutMonitor.
func NewOrchestrator(backend graph.Backend, ledger *history.Ledger, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		ledger:  ledger,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(20), 20),
		monitor: graph.NewTimeoutMonitor(),
		tracker: graph.NewTimeoutTracker(),
	}
}

// Run executes the full load protocol described in the orchestrator design:
// verify inputs, validate (unless cheat mode), back up (unless dry-run or
// no-backup), create indexes, optionally wipe, run the node pass then the
// edge pass (skipped entirely in delete mode, which instead cascades from
// every row's id), invoke plugins, and record the attempt.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{Counters: graph.NewWriteCounters(), PluginCounters: plugin.NewCounters()}

	historyID, histErr := o.ledger.Begin(ctx, opts.Dataset, opts.Mode)
	if histErr != nil {
		o.logger.WithFields(logrus.Fields{"error": histErr}).Warn("failed to record load start; continuing without history")
	}
	finish := func(outcome history.Outcome, errMsg string) {
		if historyID == "" {
			return
		}
		if err := o.ledger.Finish(ctx, historyID, result.Counters, outcome, errMsg, opts.ValidationLogPath); err != nil {
			o.logger.WithFields(logrus.Fields{"error": err}).Warn("failed to record load completion")
		}
	}

	files, err := discoverInputFiles(opts.Dataset)
	if err != nil {
		finish(history.OutcomeAborted, err.Error())
		return nil, errors.FileSystemError(err, fmt.Sprintf("failed to enumerate dataset %s", opts.Dataset))
	}
	if len(files) == 0 {
		finish(history.OutcomeAborted, "dataset contains no input files")
		return nil, errors.ConfigError(fmt.Sprintf("dataset %s contains no input files", opts.Dataset))
	}

	s, err := schema.Load(opts.SchemaFiles, opts.PropFile)
	if err != nil {
		finish(history.OutcomeAborted, err.Error())
		return nil, err
	}

	plugins, err := o.loadPlugins(s, opts)
	if err != nil {
		finish(history.OutcomeAborted, err.Error())
		return nil, err
	}

	if !opts.CheatMode {
		report, err := o.validateFiles(ctx, s, files, opts.SchemaFiles, opts.MaxViolations)
		if err != nil {
			finish(history.OutcomeAborted, err.Error())
			return nil, err
		}
		result.ValidationReport = report
		if opts.ValidationLogPath != "" {
			if err := writeValidationLog(opts.ValidationLogPath, report); err != nil {
				o.logger.WithFields(logrus.Fields{"error": err}).Warn("failed to write validation log")
			}
		}
		if !report.Passed() {
			result.Aborted = true
			result.AbortReason = fmt.Sprintf("validation failed with %d violation(s)", report.TotalViolations())
			finish(history.OutcomeFailed, result.AbortReason)
			return result, errors.ValidationError(result.AbortReason)
		}
	} else {
		o.logger.Warn("cheat mode enabled: skipping file validation")
	}

	if !opts.NoBackup && !opts.DryRun {
		if err := o.backup(ctx, opts); err != nil {
			finish(history.OutcomeAborted, err.Error())
			return nil, errors.DatabaseError(err, "backup failed")
		}
	}

	if opts.DryRun {
		o.logger.WithFields(logrus.Fields{"dataset": opts.Dataset}).Info("dry run complete; no writes issued")
		finish(history.OutcomeSuccess, "")
		return result, nil
	}

	if err := o.ensureIndexes(ctx, s); err != nil {
		finish(history.OutcomeAborted, err.Error())
		return nil, err
	}

	if opts.WipeDB {
		batchSize := 0
		if opts.SplitTransactions {
			batchSize = graph.DefaultBatchConfig().NodeBatchSize
		}
		o.logger.WithFields(logrus.Fields{"phase": "wipe_db"}).Info("wiping database")
		if err := o.backend.WipeDatabase(ctx, batchSize); err != nil {
			finish(history.OutcomeAborted, err.Error())
			return nil, errors.DatabaseError(err, "failed to wipe database")
		}
	}

	session := &backendWriteSession{backend: o.backend}

	if opts.Mode == graph.LoadModeDelete {
		deleted, err := o.runDeletePass(ctx, s, files)
		if err != nil {
			finish(history.OutcomeAborted, err.Error())
			return nil, err
		}
		result.Counters.Deleted["*"] = deleted
		result.FilesLoaded = len(files)
		finish(history.OutcomeSuccess, "")
		return result, nil
	}

	nodeCounters, err := o.runNodePass(ctx, s, files, opts.Mode)
	if err != nil {
		finish(history.OutcomeAborted, err.Error())
		return nil, err
	}
	result.Counters.Merge(nodeCounters)

	pluginCtx := plugin.PluginContext{Dataset: opts.Dataset, Mode: opts.Mode}
	edgeCounters, err := o.runEdgePass(ctx, s, files, opts.Mode, opts.StrictOneToOne, session, plugins, pluginCtx, result.PluginCounters)
	if err != nil {
		finish(history.OutcomeAborted, err.Error())
		return nil, err
	}
	result.Counters.Merge(edgeCounters)

	for _, p := range plugins {
		if !p.ShouldRun(pluginCtx, plugin.EventPostNode) {
			continue
		}
		if err := o.runPostNodePlugin(ctx, p, session, files); err != nil {
			o.logger.WithFields(logrus.Fields{"plugin": p.Name(), "error": err}).Warn("post-node plugin failed")
		}
		result.PluginCounters.Merge(p.Counters())
	}

	result.FilesLoaded = len(files)
	o.tracker.LogSummary()
	finish(history.OutcomeSuccess, "")
	return result, nil
}

func (o *Orchestrator) loadPlugins(s *schema.Schema, opts Options) ([]plugin.Plugin, error) {
	var plugins []plugin.Plugin
	for _, name := range opts.PluginNames {
		p, err := plugin.New(name, s, opts.PluginParams[name])
		if err != nil {
			return nil, errors.ConfigErrorf("failed to instantiate plugin %q: %v", name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// validateFiles validates every input file concurrently (bounded), since
// validation touches only local files and never opens a database session.
func (o *Orchestrator) validateFiles(ctx context.Context, s *schema.Schema, files, schemaFiles []string, maxViolations int) (validate.Report, error) {
	results := make([]validate.FileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := validate.ValidateFile(s, f, maxViolations)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return validate.Report{}, err
	}

	return validate.Report{DataModelVersion: schemaVersion(schemaFiles), Files: results}, nil
}

// schemaVersion identifies which schema documents governed a run, since the
// engine keeps no separate version field for the YAML model.
func schemaVersion(schemaFiles []string) string {
	names := make([]string, len(schemaFiles))
	for i, f := range schemaFiles {
		names[i] = filepath.Base(f)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func writeValidationLog(path string, report validate.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return validate.WriteLog(f, report)
}

func (o *Orchestrator) backup(ctx context.Context, opts Options) error {
	if err := os.MkdirAll(opts.BackupFolder, 0755); err != nil {
		return fmt.Errorf("failed to create backup folder: %w", err)
	}
	name := fmt.Sprintf("%s-%s.dump", sanitizeDatasetName(opts.Dataset), time.Now().UTC().Format("20060102T150405Z"))
	dest := filepath.Join(opts.BackupFolder, name)

	o.logger.WithFields(logrus.Fields{"phase": "backup", "destination": dest}).Info("running pre-load backup")

	cmd := exec.CommandContext(ctx, "neo4j-admin", "database", "dump", "neo4j", "--to-path="+opts.BackupFolder)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("neo4j-admin database dump failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func sanitizeDatasetName(dataset string) string {
	name := filepath.Base(dataset)
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '-'
		}
		return r
	}, name)
	if name == "" {
		name = "dataset"
	}
	return name
}

func (o *Orchestrator) ensureIndexes(ctx context.Context, s *schema.Schema) error {
	o.logger.WithFields(logrus.Fields{"phase": "index_creation"}).Info("ensuring indexes")
	for _, idx := range s.Indexes() {
		if err := o.backend.EnsureIndex(ctx, idx.Kind, idx.Properties); err != nil {
			return errors.DatabaseError(err, fmt.Sprintf("failed to ensure index on %s%v", idx.Kind, idx.Properties))
		}
	}
	return nil
}

func (o *Orchestrator) runNodePass(ctx context.Context, s *schema.Schema, files []string, mode graph.LoadMode) (graph.WriteCounters, error) {
	counters := graph.NewWriteCounters()
	for _, f := range files {
		o.logger.WithFields(logrus.Fields{"phase": "node_pass", "file": f}).Info("loading nodes")

		nodes, _, kind, err := prepareFile(s, f)
		if err != nil {
			return counters, err
		}

		graphNodes := make([]graph.GraphNode, 0, len(nodes))
		for _, n := range nodes {
			graphNodes = append(graphNodes, toGraphNode(s, kind, n))
		}

		if err := o.limiter.WaitN(ctx, 1); err != nil {
			return counters, err
		}

		written, err := o.backend.CreateNodesBatch(ctx, graphNodes, mode)
		if err != nil {
			return counters, errors.DatabaseError(err, fmt.Sprintf("node pass failed for %s", f))
		}
		counters.Merge(written)
	}
	return counters, nil
}

func (o *Orchestrator) runEdgePass(ctx context.Context, s *schema.Schema, files []string, mode graph.LoadMode, strictOneToOne bool,
	session plugin.WriteSession, plugins []plugin.Plugin, pluginCtx plugin.PluginContext, pluginCounters *plugin.Counters,
) (graph.WriteCounters, error) {
	counters := graph.NewWriteCounters()

	for _, f := range files {
		o.logger.WithFields(logrus.Fields{"phase": "edge_pass", "file": f}).Info("loading edges")

		nodes, lineNums, kind, err := prepareFile(s, f)
		if err != nil {
			return counters, err
		}

		var edges []graph.GraphEdge
		for i, n := range nodes {
			for _, pp := range n.ParentPointers {
				exists, err := o.parentExists(ctx, pp.ParentKind, pp.ParentIDField, pp.ParentIDValue)
				if err != nil {
					return counters, err
				}
				if !exists {
					handled, err := o.resolveMissingParent(ctx, session, plugins, pluginCtx, lineNums[i], pp)
					if err != nil {
						return counters, err
					}
					if !handled {
						return counters, errors.ValidationError(fmt.Sprintf(
							"line %d in %s: parent %s %q does not exist", lineNums[i], f, pp.ParentKind, pp.ParentIDValue))
					}
					pluginCounters.RelationshipsCreated++
				}

				multiplicity, edgeLabel, err := edgeSpecFor(s, kind, pp)
				if err != nil {
					return counters, err
				}

				props := map[string]any{}
				for k, v := range n.RelationshipProps[edgeLabel] {
					props[k] = v
				}

				edges = append(edges, graph.GraphEdge{
					Label:        edgeLabel,
					Multiplicity: multiplicity,
					FromLabel:    kind,
					FromIDField:  s.GetIDField(kind),
					FromIDValue:  n.ID,
					ToLabel:      pp.ParentKind,
					ToIDField:    pp.ParentIDField,
					ToIDValue:    pp.ParentIDValue,
					Properties:   props,
				})
			}
		}

		if len(edges) == 0 {
			continue
		}

		if err := o.limiter.WaitN(ctx, 1); err != nil {
			return counters, err
		}

		written, err := o.backend.CreateEdgesBatch(ctx, edges, mode, strictOneToOne)
		if err != nil {
			return counters, errors.DatabaseError(err, fmt.Sprintf("edge pass failed for %s", f))
		}
		counters.Merge(written)
	}

	return counters, nil
}

func (o *Orchestrator) parentExists(ctx context.Context, label, idField string, idValue any) (bool, error) {
	var rows []map[string]any
	var queryErr error

	cb := graph.NewCypherBuilder()
	query, err := cb.BuildNodeExists(label, idField, idValue)
	if err != nil {
		return false, errors.ValidationErrorf("invalid parent identity for existence check: %v", err)
	}

	duration := o.monitor.MonitorQueryExecution(ctx, "parent_exists", parentLookupTimeout, func() error {
		rows, queryErr = o.backend.Query(ctx, query, cb.Params())
		return queryErr
	})
	o.tracker.RecordExecution("parent_exists", duration, duration >= parentLookupTimeout)

	if queryErr != nil {
		return false, errors.DatabaseError(queryErr, "failed to check parent existence")
	}
	if len(rows) == 0 {
		return false, nil
	}
	count, _ := rows[0]["count"].(int64)
	return count > 0, nil
}

func (o *Orchestrator) resolveMissingParent(ctx context.Context, session plugin.WriteSession, plugins []plugin.Plugin,
	pluginCtx plugin.PluginContext, lineNum int, pp prepare.ParentPointer,
) (bool, error) {
	missing := &plugin.MissingParentContext{Kind: pp.ParentKind, IDValue: pp.ParentIDValue}
	for _, p := range plugins {
		if !p.ShouldRun(pluginCtx, plugin.EventMissingParent) {
			continue
		}
		wrote, err := p.CreateNode(ctx, session, lineNum, missing, nil)
		if err != nil {
			return false, errors.DatabaseError(err, fmt.Sprintf("plugin %s failed to synthesize missing parent", p.Name()))
		}
		if wrote {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) runPostNodePlugin(ctx context.Context, p plugin.Plugin, session plugin.WriteSession, files []string) error {
	for _, f := range files {
		records, err := readFileRecords(f)
		if err != nil {
			return err
		}
		for lineNum, row := range records {
			if _, err := p.CreateNode(ctx, session, lineNum, nil, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) runDeletePass(ctx context.Context, s *schema.Schema, files []string) (int, error) {
	total := 0
	for _, f := range files {
		o.logger.WithFields(logrus.Fields{"phase": "delete_pass", "file": f}).Info("deleting nodes")

		nodes, _, kind, err := prepareFile(s, f)
		if err != nil {
			return total, err
		}
		idField := s.GetIDField(kind)
		for _, n := range nodes {
			deleted, err := o.backend.DeleteCascade(ctx, kind, idField, n.ID)
			if err != nil {
				return total, errors.DatabaseError(err, fmt.Sprintf("delete failed for %s %q", kind, n.ID))
			}
			total += deleted
		}
	}
	return total, nil
}

func toGraphNode(s *schema.Schema, kind string, n prepare.PreparedNode) graph.GraphNode {
	return graph.GraphNode{
		Label:      kind,
		IDField:    s.GetIDField(kind),
		IDValue:    n.ID,
		Properties: n.Props,
	}
}

func edgeSpecFor(s *schema.Schema, childKind string, pp prepare.ParentPointer) (graph.Multiplicity, string, error) {
	for _, rel := range s.GetRelationshipsByLabel(pp.EdgeLabel) {
		if (rel.Source == pp.ParentKind && rel.Target == childKind) || (rel.Source == childKind && rel.Target == pp.ParentKind) {
			return graph.Multiplicity(rel.Multiplicity), rel.Label, nil
		}
	}
	return "", "", errors.ValidationError(fmt.Sprintf("no declared relationship between %s and %s", childKind, pp.ParentKind))
}

func prepareFile(s *schema.Schema, path string) ([]prepare.PreparedNode, []int, string, error) {
	records, lineNums, kind, err := readFileRecordsWithKind(path)
	if err != nil {
		return nil, nil, "", err
	}

	nodes := make([]prepare.PreparedNode, 0, len(records))
	for _, record := range records {
		node, err := prepare.Prepare(s, kind, record)
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to prepare row in %s: %w", path, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, lineNums, kind, nil
}

func readFileRecords(path string) (map[int]map[string]string, error) {
	records, _, _, err := readFileRecordsWithKind(path)
	if err != nil {
		return nil, err
	}
	out := make(map[int]map[string]string, len(records))
	for i, r := range records {
		out[i+2] = r
	}
	return out, nil
}

func readFileRecordsWithKind(path string) ([]map[string]string, []int, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return nil, nil, "", fmt.Errorf("%s is empty", path)
	}
	header := strings.Split(scanner.Text(), "\t")

	var records []map[string]string
	var lineNums []int
	kind := ""
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		values := strings.Split(line, "\t")
		record := make(map[string]string, len(header))
		for i, col := range header {
			col = strings.TrimSpace(col)
			if i < len(values) {
				record[col] = strings.TrimSpace(values[i])
			} else {
				record[col] = ""
			}
		}
		if kind == "" {
			kind = record["type"]
		}
		records = append(records, record)
		lineNums = append(lineNums, lineNum)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, "", fmt.Errorf("failed reading %s: %w", path, err)
	}
	return records, lineNums, kind, nil
}

// discoverInputFiles lists *.txt and *.tsv files directly under dataset, in
// a stable sorted order so loads are reproducible.
func discoverInputFiles(dataset string) ([]string, error) {
	entries, err := os.ReadDir(dataset)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".txt" || ext == ".tsv" {
			files = append(files, filepath.Join(dataset, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// backendWriteSession adapts graph.Backend's batch methods to the
// single-node/single-edge shape the Plugin Port writes through.
type backendWriteSession struct {
	backend graph.Backend
}

func (s *backendWriteSession) CreateNode(ctx context.Context, node graph.GraphNode, mode graph.LoadMode) error {
	_, err := s.backend.CreateNodesBatch(ctx, []graph.GraphNode{node}, mode)
	return err
}

func (s *backendWriteSession) CreateEdge(ctx context.Context, edge graph.GraphEdge, mode graph.LoadMode) error {
	_, err := s.backend.CreateEdgesBatch(ctx, []graph.GraphEdge{edge}, mode, false)
	return err
}
