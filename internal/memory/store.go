// Package memory implements the per-project decision store.
//
// Each project lives in its own SQLite database under the data directory.
// Decisions and conversations are stored as JSON payloads, sealed with
// AES-GCM when encryption is enabled; status and outcome stay in plain
// columns so eviction never needs the key. Lexical lookup runs on an FTS5
// trigram table written in the same transaction as the record, and the store
// owns the project's index.Index for TF-IDF similarity. With encryption on,
// every persisted term and the domain column are HMAC-blinded.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/index"

	_ "modernc.org/sqlite"
)

// timeNow is replaced in tests to control record timestamps.
var timeNow = time.Now

// timeLayout is fixed-width so text ordering in SQLite matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// pageSize is how many rows Recent fetches per round trip.
const pageSize = 64

// substringMinRunes is the shortest query token that also matches stored
// terms containing it.
const substringMinRunes = 4

// ─── Options ─────────────────────────────────────────────────────────────────

const (
	DefaultBudgetBytes      int64 = 1000 << 20
	DefaultSuccessThreshold       = 0.95
	StrictSuccessThreshold        = 0.98
)

// Options configures one project memory. The caller resolves every value;
// the store never reads the environment or configuration files.
type Options struct {
	Project          string
	DataDir          string
	BudgetBytes      int64
	Encryption       bool
	Passphrase       []byte
	SuccessThreshold float64
	StrictMode       bool
	RecomputeEvery   int
	Logger           *zap.Logger
}

// DefaultOptions returns options for project rooted at ~/.membank.
func DefaultOptions(project string) Options {
	home, _ := os.UserHomeDir()
	return Options{
		Project:          project,
		DataDir:          filepath.Join(home, ".membank"),
		BudgetBytes:      DefaultBudgetBytes,
		SuccessThreshold: DefaultSuccessThreshold,
		RecomputeEvery:   index.DefaultRecomputeEvery,
	}
}

// Threshold is the success probability an artifact must reach to pass a
// quality gate.
func (o Options) Threshold() float64 {
	t := o.SuccessThreshold
	if t <= 0 || t > 1 {
		t = DefaultSuccessThreshold
	}
	if o.StrictMode && t < StrictSuccessThreshold {
		t = StrictSuccessThreshold
	}
	return t
}

func (o Options) withDefaults() Options {
	if o.SuccessThreshold == 0 {
		o.SuccessThreshold = DefaultSuccessThreshold
	}
	if o.RecomputeEvery <= 0 {
		o.RecomputeEvery = index.DefaultRecomputeEvery
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) validate() error {
	switch {
	case strings.TrimSpace(o.Project) == "":
		return &ValidationError{Field: "project", Reason: "must not be empty"}
	case o.DataDir == "":
		return &ValidationError{Field: "data_dir", Reason: "must not be empty"}
	case o.BudgetBytes <= 0:
		return &ValidationError{Field: "budget_bytes", Reason: "must be positive"}
	case o.SuccessThreshold < 0 || o.SuccessThreshold > 1:
		return &ValidationError{Field: "success_threshold", Reason: "must be within [0, 1]"}
	}
	return nil
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is one project's memory. Writes are serialized by a per-store mutex
// held for the database transaction plus the in-memory index update; reads
// never take it.
type Store struct {
	db    *sql.DB
	opts  Options
	log   *zap.Logger
	seal  *sealer
	idx   *index.Index
	epoch string
	hooks storeHooks

	writeMu sync.Mutex
	total   int64 // guarded by writeMu

	stored  atomic.Int64
	version atomic.Uint64

	cacheMu sync.RWMutex
	cache   map[string]*DecisionRecord
}

type storeHooks struct {
	commit func(tx *sql.Tx) error
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Open opens or creates the memory for opts.Project. It fails with an
// *AccessError when encryption is enabled and the passphrase is missing or
// wrong, or when the on-disk encryption flag disagrees with opts.
func Open(opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(opts.DataDir, projectFileName(opts.Project)+".db")
	// busy_timeout goes in the DSN so every pooled connection gets it.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{
		db:    db,
		opts:  opts,
		log:   opts.Logger.With(zap.String("project", opts.Project)),
		epoch: uuid.NewString(),
		cache: make(map[string]*DecisionRecord),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	if err := s.unlock(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}

	storedBytes.WithLabelValues(opts.Project).Set(float64(s.total))
	s.log.Info("memory: project opened",
		zap.Int("decisions", len(s.cache)),
		zap.Int64("stored_bytes", s.total),
		zap.Bool("encrypted", opts.Encryption))
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS decisions (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			status     TEXT    NOT NULL,
			outcome    TEXT    NOT NULL,
			domain     TEXT    NOT NULL,
			payload    BLOB    NOT NULL,
			size       INTEGER NOT NULL,
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_dec_created ON decisions(created_at DESC, seq DESC);
		CREATE INDEX IF NOT EXISTS idx_dec_domain  ON decisions(domain, outcome);

		CREATE TABLE IF NOT EXISTS conversations (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			payload    BLOB    NOT NULL,
			size       INTEGER NOT NULL,
			created_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conv_created ON conversations(created_at DESC, seq DESC);

		CREATE TABLE IF NOT EXISTS conversation_refs (
			conversation_id TEXT NOT NULL,
			decision_id     TEXT NOT NULL,
			PRIMARY KEY (conversation_id, decision_id)
		);

		CREATE INDEX IF NOT EXISTS idx_refs_decision ON conversation_refs(decision_id);

		CREATE TABLE IF NOT EXISTS index_terms (
			term TEXT PRIMARY KEY,
			df   INTEGER NOT NULL,
			idf  REAL    NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS decision_lexicon USING fts5(
			terms,
			content='',
			contentless_delete=1,
			tokenize='trigram'
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Meta ────────────────────────────────────────────────────────────────────

const (
	metaProject     = "project"
	metaEncrypted   = "encrypted"
	metaSalt        = "salt"
	metaKeyCheck    = "key_check"
	metaVersion     = "version"
	metaDocCount    = "doc_count"
	metaIndexWrites = "index_writes"
	metaLexicon     = "lexicon"
)

func getMeta(q queryer, key string) ([]byte, bool, error) {
	var v []byte
	err := q.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memory: read meta %s: %w", key, err)
	}
	return v, true, nil
}

func getMetaInt(q queryer, key string) (int64, error) {
	v, ok, err := getMeta(q, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory: meta %s: %w", key, err)
	}
	return n, nil
}

func setMeta(e execer, key string, value []byte) error {
	_, err := e.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("memory: write meta %s: %w", key, err)
	}
	return nil
}

func setMetaInt(e execer, key string, n int64) error {
	return setMeta(e, key, []byte(strconv.FormatInt(n, 10)))
}

// unlock binds the database to the project and, when encryption is on,
// derives the key and verifies it against the stored key check.
func (s *Store) unlock() error {
	enc, initialized, err := getMeta(s.db, metaEncrypted)
	if err != nil {
		return err
	}

	if s.opts.Encryption && len(s.opts.Passphrase) == 0 {
		return &AccessError{Project: s.opts.Project, Reason: "encryption is enabled but no key was supplied"}
	}

	if !initialized {
		return s.initMeta()
	}

	project, _, err := getMeta(s.db, metaProject)
	if err != nil {
		return err
	}
	if string(project) != s.opts.Project {
		return &AccessError{Project: s.opts.Project, Reason: fmt.Sprintf("data file belongs to project %q", project)}
	}

	wasEncrypted := string(enc) == "1"
	switch {
	case wasEncrypted && !s.opts.Encryption:
		return &AccessError{Project: s.opts.Project, Reason: "memory is encrypted; a key is required"}
	case !wasEncrypted && s.opts.Encryption:
		return &AccessError{Project: s.opts.Project, Reason: "memory was created without encryption"}
	case !wasEncrypted:
		return nil
	}

	salt, _, err := getMeta(s.db, metaSalt)
	if err != nil {
		return err
	}
	check, _, err := getMeta(s.db, metaKeyCheck)
	if err != nil {
		return err
	}
	sl, err := newSealer(s.opts.Passphrase, salt)
	if err != nil {
		return err
	}
	plain, err := sl.open(check)
	if err != nil || string(plain) != string(keyCheckPlaintext) {
		return &AccessError{Project: s.opts.Project, Reason: "invalid encryption key"}
	}
	s.seal = sl
	return nil
}

func (s *Store) initMeta() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	if err := setMeta(tx, metaProject, []byte(s.opts.Project)); err != nil {
		return err
	}
	flag := []byte("0")
	if s.opts.Encryption {
		flag = []byte("1")
		salt, err := newSalt()
		if err != nil {
			return err
		}
		sl, err := newSealer(s.opts.Passphrase, salt)
		if err != nil {
			return err
		}
		check, err := sl.seal(keyCheckPlaintext)
		if err != nil {
			return err
		}
		if err := setMeta(tx, metaSalt, salt); err != nil {
			return err
		}
		if err := setMeta(tx, metaKeyCheck, check); err != nil {
			return err
		}
		s.seal = sl
	}
	if err := setMeta(tx, metaEncrypted, flag); err != nil {
		return err
	}
	if err := setMeta(tx, metaLexicon, []byte("1")); err != nil {
		return err
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	return nil
}

// load fills the record cache, restores the index from persisted term
// statistics, and reads the size and version counters.
func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT ` + decisionColumns + ` FROM decisions ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("memory: load decisions: %w", err)
	}
	var docs []index.Document
	for rows.Next() {
		rec, err := s.scanDecision(rows)
		if err != nil {
			rows.Close()
			return err
		}
		s.cache[rec.ID] = rec
		docs = append(docs, index.Document{ID: rec.ID, Tokens: index.Tokenize(rec.Text())})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("memory: load decisions: %w", err)
	}
	rows.Close()

	plainTerms := s.plainTermMap(docs)
	stats := make(map[string]index.TermStat)
	termRows, err := s.db.Query(`SELECT term, df, idf FROM index_terms`)
	if err != nil {
		return fmt.Errorf("memory: load index terms: %w", err)
	}
	for termRows.Next() {
		var term string
		var st index.TermStat
		if err := termRows.Scan(&term, &st.DF, &st.IDF); err != nil {
			termRows.Close()
			return fmt.Errorf("memory: scan index term: %w", err)
		}
		if plain, ok := plainTerms[term]; ok {
			term = plain
		}
		stats[term] = st
	}
	termRows.Close()

	docCount, err := getMetaInt(s.db, metaDocCount)
	if err != nil {
		return err
	}
	writes, err := getMetaInt(s.db, metaIndexWrites)
	if err != nil {
		return err
	}

	s.idx = index.New(s.opts.RecomputeEvery)
	if !s.idx.Restore(docs, stats, int(docCount), int(writes)) {
		if err := s.persistSnapshot(); err != nil {
			return err
		}
		s.log.Info("memory: index statistics rebuilt", zap.Int("documents", len(docs)))
	}
	if err := s.ensureLexicon(); err != nil {
		return err
	}

	if err := s.db.QueryRow(`SELECT
		(SELECT COALESCE(SUM(size), 0) FROM decisions) +
		(SELECT COALESCE(SUM(size), 0) FROM conversations)`).Scan(&s.total); err != nil {
		return fmt.Errorf("memory: sum sizes: %w", err)
	}
	s.stored.Store(s.total)

	version, err := getMetaInt(s.db, metaVersion)
	if err != nil {
		return err
	}
	s.version.Store(uint64(version))
	return nil
}

func (s *Store) persistSnapshot() error {
	stats, docCount, writes := s.idx.Snapshot()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM index_terms`); err != nil {
		return fmt.Errorf("memory: clear index terms: %w", err)
	}
	for term, st := range stats {
		if _, err := tx.Exec(`INSERT INTO index_terms (term, df, idf) VALUES (?, ?, ?)`, s.seal.blindTerm(term), st.DF, st.IDF); err != nil {
			return fmt.Errorf("memory: write index term: %w", err)
		}
	}
	if err := setMetaInt(tx, metaDocCount, int64(docCount)); err != nil {
		return err
	}
	if err := setMetaInt(tx, metaIndexWrites, int64(writes)); err != nil {
		return err
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	return nil
}

// persistDelta writes a planned index change inside the caller's transaction.
func (s *Store) persistDelta(tx *sql.Tx, d *index.Delta) error {
	if d.Full {
		if _, err := tx.Exec(`DELETE FROM index_terms`); err != nil {
			return fmt.Errorf("memory: clear index terms: %w", err)
		}
	}
	for term, st := range d.Terms {
		term = s.seal.blindTerm(term)
		if st.DF <= 0 {
			if _, err := tx.Exec(`DELETE FROM index_terms WHERE term = ?`, term); err != nil {
				return fmt.Errorf("memory: delete index term: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(`INSERT INTO index_terms (term, df, idf) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET df = excluded.df, idf = excluded.idf`, term, st.DF, st.IDF); err != nil {
			return fmt.Errorf("memory: write index term: %w", err)
		}
	}
	if err := setMetaInt(tx, metaDocCount, int64(d.DocCount)); err != nil {
		return err
	}
	return setMetaInt(tx, metaIndexWrites, int64(d.Writes))
}

// ─── Decisions ───────────────────────────────────────────────────────────────

const decisionColumns = `seq, id, status, outcome, domain, payload, size, created_at, updated_at`

// AppendDecision validates and stores a new decision, evicting older records
// first if the write would exceed the byte budget. Returns the new id.
func (s *Store) AppendDecision(in DecisionInput) (string, error) {
	if err := validateInput(in); err != nil {
		writesTotal.WithLabelValues("append_decision", "invalid").Inc()
		return "", err
	}

	now := timeNow().UTC()
	rec := &DecisionRecord{
		ID:            uuid.NewString(),
		Project:       s.opts.Project,
		Title:         strings.TrimSpace(in.Title),
		Context:       strings.TrimSpace(in.Context),
		ChosenOption:  strings.TrimSpace(in.ChosenOption),
		Rationale:     strings.TrimSpace(in.Rationale),
		Options:       in.Options,
		DecisionMaker: strings.TrimSpace(in.DecisionMaker),
		Metadata:      in.Metadata,
		Domain:        NormalizeDomain(in.Domain),
		Status:        in.Status,
		Outcome:       in.Outcome,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if rec.Domain == "" {
		rec.Domain = InferDomain(rec.Title, rec.Context, rec.ChosenOption)
	}
	if rec.Status == "" {
		rec.Status = StatusProposed
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeUnknown
	}

	payload, err := s.encode(decisionPayload{
		Title:         rec.Title,
		Context:       rec.Context,
		ChosenOption:  rec.ChosenOption,
		Rationale:     rec.Rationale,
		Options:       rec.Options,
		DecisionMaker: rec.DecisionMaker,
		Metadata:      rec.Metadata,
		Domain:        rec.Domain,
	})
	if err != nil {
		return "", err
	}
	rec.Size = int64(len(payload)) + rowOverhead
	doc := index.Document{ID: rec.ID, Tokens: index.Tokenize(rec.Text())}
	lexicon := s.lexiconText(doc.Tokens)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	start := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	evicted, freed, err := s.evictFor(tx, rec.Size, now)
	if err != nil {
		writesTotal.WithLabelValues("append_decision", "capacity").Inc()
		return "", err
	}

	res, err := tx.Exec(`INSERT INTO decisions (id, status, outcome, domain, payload, size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Status, rec.Outcome, s.seal.blindTerm(rec.Domain), payload, rec.Size,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("memory: insert decision: %w", err)
	}
	if rec.Seq, err = res.LastInsertId(); err != nil {
		return "", fmt.Errorf("memory: insert decision: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO decision_lexicon (rowid, terms) VALUES (?, ?)`, rec.Seq, lexicon); err != nil {
		return "", fmt.Errorf("memory: index decision terms: %w", err)
	}

	delta := s.idx.Plan([]index.Document{doc}, decisionIDs(evicted))
	if err := s.persistDelta(tx, delta); err != nil {
		return "", err
	}
	version := s.version.Load() + 1
	if err := setMetaInt(tx, metaVersion, int64(version)); err != nil {
		return "", err
	}
	if err := s.commitHook(tx); err != nil {
		return "", fmt.Errorf("memory: commit: %w", err)
	}

	s.idx.Apply(delta)
	s.cacheApply(rec, evicted)
	s.addTotal(rec.Size - freed)
	s.version.Store(version)

	writesTotal.WithLabelValues("append_decision", "ok").Inc()
	writeDuration.Observe(time.Since(start).Seconds())
	s.log.Debug("memory: decision appended",
		zap.String("id", rec.ID),
		zap.String("domain", rec.Domain),
		zap.Int("evicted", len(evicted)))
	return rec.ID, nil
}

// UpdateOutcome moves a decision's status and/or outcome forward. Empty
// values leave the field unchanged; re-applying the current value is a no-op.
func (s *Store) UpdateOutcome(id string, status Status, outcome Outcome) (*DecisionRecord, error) {
	if status == "" && outcome == "" {
		return nil, &ValidationError{Field: "status", Reason: "status or outcome is required"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, ok := s.Lookup(id)
	if !ok {
		return nil, &NotFoundError{Kind: "decision", ID: id}
	}
	if err := checkTransition(&cur, status, outcome); err != nil {
		writesTotal.WithLabelValues("update_outcome", "rejected").Inc()
		return nil, err
	}

	next := cur
	if status != "" {
		next.Status = status
	}
	if outcome != "" {
		next.Outcome = outcome
	}
	if next.Status == cur.Status && next.Outcome == cur.Outcome {
		return &cur, nil
	}
	next.UpdatedAt = timeNow().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE decisions SET status = ?, outcome = ?, updated_at = ? WHERE id = ?`,
		next.Status, next.Outcome, next.UpdatedAt.Format(timeLayout), id); err != nil {
		return nil, fmt.Errorf("memory: update decision: %w", err)
	}
	version := s.version.Load() + 1
	if err := setMetaInt(tx, metaVersion, int64(version)); err != nil {
		return nil, err
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("memory: commit: %w", err)
	}

	s.cacheApply(&next, nil)
	s.version.Store(version)
	writesTotal.WithLabelValues("update_outcome", "ok").Inc()
	s.log.Debug("memory: decision updated",
		zap.String("id", id),
		zap.String("status", string(next.Status)),
		zap.String("outcome", string(next.Outcome)))
	out := next
	return &out, nil
}

// Get reads a decision from the database.
func (s *Store) Get(id string) (*DecisionRecord, error) {
	row := s.db.QueryRow(`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)
	rec, err := s.scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "decision", ID: id}
	}
	return rec, err
}

// Recent yields decisions newest first, fetching them lazily in pages.
// limit <= 0 yields every decision. Each range over the sequence starts again
// from the newest record.
func (s *Store) Recent(limit int) iter.Seq2[DecisionRecord, error] {
	return paged(limit, func(after *cursor, n int) ([]DecisionRecord, error) {
		q := `SELECT ` + decisionColumns + ` FROM decisions`
		var args []any
		if after != nil {
			q += ` WHERE created_at < ? OR (created_at = ? AND seq < ?)`
			args = append(args, after.at, after.at, after.seq)
		}
		q += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
		args = append(args, n)

		rows, err := s.db.Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("memory: recent decisions: %w", err)
		}
		defer rows.Close()
		var out []DecisionRecord
		for rows.Next() {
			rec, err := s.scanDecision(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
		return out, rows.Err()
	}, func(d DecisionRecord) cursor {
		return cursor{at: d.CreatedAt.Format(timeLayout), seq: d.Seq}
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanDecision(row rowScanner) (*DecisionRecord, error) {
	var (
		rec                  DecisionRecord
		payload              []byte
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.Seq, &rec.ID, &rec.Status, &rec.Outcome, &rec.Domain,
		&payload, &rec.Size, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: scan decision: %w", err)
	}
	var p decisionPayload
	if err := s.decode(payload, &p); err != nil {
		return nil, fmt.Errorf("memory: decision %s: %w", rec.ID, err)
	}
	rec.Project = s.opts.Project
	rec.Title = p.Title
	rec.Context = p.Context
	rec.ChosenOption = p.ChosenOption
	rec.Rationale = p.Rationale
	rec.Options = p.Options
	rec.DecisionMaker = p.DecisionMaker
	rec.Metadata = p.Metadata
	if p.Domain != "" {
		rec.Domain = p.Domain
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// ─── Conversations ───────────────────────────────────────────────────────────

const conversationColumns = `seq, id, payload, size, created_at`

// AppendConversation stores a query/response exchange. Every referenced
// decision must exist.
func (s *Store) AppendConversation(in ConversationInput) (string, error) {
	if err := validateInput(in); err != nil {
		writesTotal.WithLabelValues("append_conversation", "invalid").Inc()
		return "", err
	}
	refs := uniqueStrings(in.ReferencedIDs)

	now := timeNow().UTC()
	rec := &ConversationRecord{
		ID:            uuid.NewString(),
		Project:       s.opts.Project,
		Query:         strings.TrimSpace(in.Query),
		Response:      strings.TrimSpace(in.Response),
		ReferencedIDs: refs,
		CreatedAt:     now,
	}
	payload, err := s.encode(conversationPayload{
		Query:         rec.Query,
		Response:      rec.Response,
		ReferencedIDs: rec.ReferencedIDs,
	})
	if err != nil {
		return "", err
	}
	rec.Size = int64(len(payload)) + rowOverhead

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	start := time.Now()

	for _, id := range refs {
		if _, ok := s.Lookup(id); !ok {
			writesTotal.WithLabelValues("append_conversation", "invalid").Inc()
			return "", &NotFoundError{Kind: "decision", ID: id}
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	evicted, freed, err := s.evictFor(tx, rec.Size, now, refs...)
	if err != nil {
		writesTotal.WithLabelValues("append_conversation", "capacity").Inc()
		return "", err
	}
	gone := make(map[string]bool, len(evicted))
	for _, r := range evicted {
		gone[r.id] = true
	}

	if _, err := tx.Exec(`INSERT INTO conversations (id, payload, size, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, payload, rec.Size, now.Format(timeLayout)); err != nil {
		return "", fmt.Errorf("memory: insert conversation: %w", err)
	}
	for _, id := range refs {
		if gone[id] {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO conversation_refs (conversation_id, decision_id) VALUES (?, ?)`, rec.ID, id); err != nil {
			return "", fmt.Errorf("memory: insert conversation ref: %w", err)
		}
	}

	var delta *index.Delta
	if ids := decisionIDs(evicted); len(ids) > 0 {
		delta = s.idx.Plan(nil, ids)
		if err := s.persistDelta(tx, delta); err != nil {
			return "", err
		}
	}
	version := s.version.Load() + 1
	if err := setMetaInt(tx, metaVersion, int64(version)); err != nil {
		return "", err
	}
	if err := s.commitHook(tx); err != nil {
		return "", fmt.Errorf("memory: commit: %w", err)
	}

	if delta != nil {
		s.idx.Apply(delta)
	}
	s.cacheApply(nil, evicted)
	s.addTotal(rec.Size - freed)
	s.version.Store(version)

	writesTotal.WithLabelValues("append_conversation", "ok").Inc()
	writeDuration.Observe(time.Since(start).Seconds())
	return rec.ID, nil
}

// GetConversation reads one conversation.
func (s *Store) GetConversation(id string) (*ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	rec, err := s.scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "conversation", ID: id}
	}
	return rec, err
}

// RecentConversations yields conversations newest first, like Recent.
func (s *Store) RecentConversations(limit int) iter.Seq2[ConversationRecord, error] {
	return paged(limit, func(after *cursor, n int) ([]ConversationRecord, error) {
		q := `SELECT ` + conversationColumns + ` FROM conversations`
		var args []any
		if after != nil {
			q += ` WHERE created_at < ? OR (created_at = ? AND seq < ?)`
			args = append(args, after.at, after.at, after.seq)
		}
		q += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
		args = append(args, n)

		rows, err := s.db.Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("memory: recent conversations: %w", err)
		}
		defer rows.Close()
		var out []ConversationRecord
		for rows.Next() {
			rec, err := s.scanConversation(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
		return out, rows.Err()
	}, func(c ConversationRecord) cursor {
		return cursor{at: c.CreatedAt.Format(timeLayout), seq: c.Seq}
	})
}

func (s *Store) scanConversation(row rowScanner) (*ConversationRecord, error) {
	var (
		rec       ConversationRecord
		payload   []byte
		createdAt string
	)
	if err := row.Scan(&rec.Seq, &rec.ID, &payload, &rec.Size, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: scan conversation: %w", err)
	}
	var p conversationPayload
	if err := s.decode(payload, &p); err != nil {
		return nil, fmt.Errorf("memory: conversation %s: %w", rec.ID, err)
	}
	rec.Project = s.opts.Project
	rec.Query = p.Query
	rec.Response = p.Response
	rec.ReferencedIDs = p.ReferencedIDs
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

// ─── Eviction ────────────────────────────────────────────────────────────────

// evictFor deletes the lowest-retention rows until need more bytes fit in the
// budget. Returns the evicted rows and the bytes they freed.
func (s *Store) evictFor(tx *sql.Tx, need int64, now time.Time, pinned ...string) ([]retained, int64, error) {
	if need > s.opts.BudgetBytes {
		return nil, 0, &CapacityError{Need: need, Budget: s.opts.BudgetBytes}
	}
	excess := s.total + need - s.opts.BudgetBytes
	if excess <= 0 {
		return nil, 0, nil
	}

	rows, err := retentionRows(tx, now)
	if err != nil {
		return nil, 0, err
	}
	plan, err := planEviction(rows, excess, pinned...)
	if err != nil {
		return nil, 0, &CapacityError{Need: need, Budget: s.opts.BudgetBytes}
	}

	var freed int64
	for _, r := range plan {
		switch r.kind {
		case kindDecision:
			if _, err := tx.Exec(`DELETE FROM decisions WHERE id = ?`, r.id); err != nil {
				return nil, 0, fmt.Errorf("memory: evict decision: %w", err)
			}
			if _, err := tx.Exec(`DELETE FROM decision_lexicon WHERE rowid = ?`, r.seq); err != nil {
				return nil, 0, fmt.Errorf("memory: evict decision terms: %w", err)
			}
			if _, err := tx.Exec(`DELETE FROM conversation_refs WHERE decision_id = ?`, r.id); err != nil {
				return nil, 0, fmt.Errorf("memory: evict refs: %w", err)
			}
		case kindConversation:
			if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, r.id); err != nil {
				return nil, 0, fmt.Errorf("memory: evict conversation: %w", err)
			}
			if _, err := tx.Exec(`DELETE FROM conversation_refs WHERE conversation_id = ?`, r.id); err != nil {
				return nil, 0, fmt.Errorf("memory: evict refs: %w", err)
			}
		}
		freed += r.size
		evictionsTotal.WithLabelValues(r.kind.String()).Inc()
	}
	s.log.Info("memory: evicted records to fit budget",
		zap.Int("count", len(plan)),
		zap.Int64("freed_bytes", freed),
		zap.Int64("budget_bytes", s.opts.BudgetBytes))
	return plan, freed, nil
}

func retentionRows(tx *sql.Tx, now time.Time) ([]retained, error) {
	var out []retained

	rows, err := tx.Query(`SELECT id, seq, size, outcome, created_at FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("memory: retention scan: %w", err)
	}
	for rows.Next() {
		var r retained
		var outcome Outcome
		var createdAt string
		if err := rows.Scan(&r.id, &r.seq, &r.size, &outcome, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("memory: retention scan: %w", err)
		}
		r.kind = kindDecision
		r.createdAt = parseTime(createdAt)
		r.score = RetentionScore(outcome, r.createdAt, now)
		out = append(out, r)
	}
	rows.Close()

	refs := make(map[string][]string)
	refRows, err := tx.Query(`SELECT conversation_id, decision_id FROM conversation_refs`)
	if err != nil {
		return nil, fmt.Errorf("memory: retention refs: %w", err)
	}
	for refRows.Next() {
		var conv, dec string
		if err := refRows.Scan(&conv, &dec); err != nil {
			refRows.Close()
			return nil, fmt.Errorf("memory: retention refs: %w", err)
		}
		refs[conv] = append(refs[conv], dec)
	}
	refRows.Close()

	convRows, err := tx.Query(`SELECT id, seq, size, created_at FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("memory: retention scan: %w", err)
	}
	defer convRows.Close()
	for convRows.Next() {
		var r retained
		var createdAt string
		if err := convRows.Scan(&r.id, &r.seq, &r.size, &createdAt); err != nil {
			return nil, fmt.Errorf("memory: retention scan: %w", err)
		}
		r.kind = kindConversation
		r.createdAt = parseTime(createdAt)
		r.score = RetentionScore(OutcomeUnknown, r.createdAt, now)
		r.refs = refs[r.id]
		out = append(out, r)
	}
	return out, convRows.Err()
}

func decisionIDs(rows []retained) []string {
	var ids []string
	for _, r := range rows {
		if r.kind == kindDecision {
			ids = append(ids, r.id)
		}
	}
	return ids
}

// ─── Read views ──────────────────────────────────────────────────────────────

// Lookup returns a decision from the in-memory cache. The returned record
// shares its Options and Metadata with the cache and must not be modified.
func (s *Store) Lookup(id string) (DecisionRecord, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	rec, ok := s.cache[id]
	if !ok {
		return DecisionRecord{}, false
	}
	return *rec, true
}

// Decisions returns the cached records for ids, skipping unknown ones.
func (s *Store) Decisions(ids []string) []DecisionRecord {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make([]DecisionRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.cache[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// AllDecisions returns every cached decision in insertion order.
func (s *Store) AllDecisions() []DecisionRecord {
	s.cacheMu.RLock()
	out := make([]DecisionRecord, 0, len(s.cache))
	for _, rec := range s.cache {
		out = append(out, *rec)
	}
	s.cacheMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) cacheApply(put *DecisionRecord, evicted []retained) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for _, r := range evicted {
		if r.kind == kindDecision {
			delete(s.cache, r.id)
		}
	}
	if put != nil {
		s.cache[put.ID] = put
	}
}

func (s *Store) addTotal(delta int64) {
	s.total += delta
	s.stored.Store(s.total)
	storedBytes.WithLabelValues(s.opts.Project).Set(float64(s.total))
}

// ─── Lexical lookup ──────────────────────────────────────────────────────────

// SearchLexical returns every decision matching at least one token, mapped to
// the number of distinct tokens it matched. A token matches a decision that
// contains it as a whole term. On unencrypted stores a token of four or more
// runes also matches terms containing it; blinded terms only match whole.
func (s *Store) SearchLexical(tokens []string) (map[string]int, error) {
	hits := make(map[string]int)
	for _, tok := range index.Unique(tokens) {
		rows, err := s.db.Query(`SELECT d.id FROM decision_lexicon l
			JOIN decisions d ON d.seq = l.rowid
			WHERE decision_lexicon MATCH ?`, s.lexiconPattern(tok))
		if err != nil {
			return nil, fmt.Errorf("memory: lexical search: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("memory: lexical search: %w", err)
			}
			hits[id]++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("memory: lexical search: %w", err)
		}
	}
	return hits, nil
}

// lexiconText renders a document's distinct terms for the trigram table.
// Every term is padded with spaces so a padded pattern matches whole terms.
func (s *Store) lexiconText(tokens []string) string {
	var b strings.Builder
	b.WriteByte(' ')
	for _, t := range index.Unique(tokens) {
		b.WriteString(s.seal.blindTerm(t))
		b.WriteByte(' ')
	}
	return b.String()
}

func (s *Store) lexiconPattern(tok string) string {
	term := s.seal.blindTerm(tok)
	if s.seal == nil && utf8.RuneCountInString(tok) >= substringMinRunes {
		return ftsPhrase(term)
	}
	return ftsPhrase(" " + term + " ")
}

// ftsPhrase quotes s as a single FTS5 phrase.
func ftsPhrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ensureLexicon fills the trigram table from the stored decisions when it
// has never been built for this database.
func (s *Store) ensureLexicon() error {
	_, built, err := getMeta(s.db, metaLexicon)
	if err != nil || built {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM decision_lexicon`); err != nil {
		return fmt.Errorf("memory: clear lexicon: %w", err)
	}
	for _, rec := range s.AllDecisions() {
		text := s.lexiconText(index.Tokenize(rec.Text()))
		if _, err := tx.Exec(`INSERT INTO decision_lexicon (rowid, terms) VALUES (?, ?)`, rec.Seq, text); err != nil {
			return fmt.Errorf("memory: index decision terms: %w", err)
		}
	}
	if err := setMeta(tx, metaLexicon, []byte("1")); err != nil {
		return err
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	s.log.Info("memory: lexicon rebuilt", zap.Int("documents", len(s.cache)))
	return nil
}

// plainTermMap maps blinded terms back to the document tokens they came
// from. It is empty on unencrypted stores, where terms are persisted as is.
func (s *Store) plainTermMap(docs []index.Document) map[string]string {
	out := make(map[string]string)
	if s.seal == nil {
		return out
	}
	seen := make(map[string]struct{})
	for _, d := range docs {
		for _, tok := range d.Tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out[s.seal.blindTerm(tok)] = tok
		}
	}
	return out
}

// Index exposes the project's TF-IDF similarity index for reads.
func (s *Store) Index() *index.Index { return s.idx }

// Options returns the options the store was opened with.
func (s *Store) Options() Options { return s.opts }

// Project returns the project identifier.
func (s *Store) Project() string { return s.opts.Project }

// Version is the corpus version counter. It advances on every write and
// survives reopening.
func (s *Store) Version() uint64 { return s.version.Load() }

// Epoch identifies this open handle. Together with Version it keys cached
// derived results.
func (s *Store) Epoch() string { return s.epoch }

// StoredBytes is the current accounted size of all records.
func (s *Store) StoredBytes() int64 { return s.stored.Load() }

// Stats returns aggregate counts for the project.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{
		Project:     s.opts.Project,
		StoredBytes: s.StoredBytes(),
		BudgetBytes: s.opts.BudgetBytes,
		Encrypted:   s.opts.Encryption,
		Version:     s.Version(),
		Outcomes:    make(map[Outcome]int),
		Domains:     make(map[string]int),
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return nil, fmt.Errorf("memory: count conversations: %w", err)
	}
	for _, rec := range s.AllDecisions() {
		st.Decisions++
		st.Outcomes[rec.Outcome]++
		st.Domains[rec.Domain]++
	}
	return st, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type cursor struct {
	at  string
	seq int64
}

// paged turns a keyset page fetcher into a lazy sequence.
func paged[T any](limit int, fetch func(after *cursor, n int) ([]T, error), key func(T) cursor) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var after *cursor
		seen := 0
		for limit <= 0 || seen < limit {
			n := pageSize
			if limit > 0 && limit-seen < n {
				n = limit - seen
			}
			page, err := fetch(after, n)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range page {
				if !yield(item, nil) {
					return
				}
				seen++
			}
			if len(page) < n {
				return
			}
			c := key(page[len(page)-1])
			after = &c
		}
	}
}

func (s *Store) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("memory: encode payload: %w", err)
	}
	return s.seal.seal(raw)
}

func (s *Store) decode(data []byte, v any) error {
	raw, err := s.seal.open(data)
	if err != nil {
		return fmt.Errorf("decrypt payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// projectFileName maps a project id to a safe file name. The readable slug
// is followed by a hash of the raw id, so ids that slug alike stay apart.
func projectFileName(project string) string {
	name := NormalizeDomain(project)
	if len(name) > 48 {
		name = name[:48]
	}
	if name == "" {
		name = "project"
	}
	sum := sha256.Sum256([]byte(project))
	return name + "-" + hex.EncodeToString(sum[:6])
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Truncate shortens a string to max runes with an ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
