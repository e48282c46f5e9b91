package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/storage/models"
	"github.com/aula-insights/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS aulas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		base_url TEXT UNIQUE NOT NULL,
		token TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aula_id INTEGER NOT NULL,
		external_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		short_name TEXT,
		last_synced_at INTEGER,
		UNIQUE(aula_id, external_id),
		FOREIGN KEY (aula_id) REFERENCES aulas(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_courses_aula ON courses(aula_id);

	CREATE TABLE IF NOT EXISTS course_activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL,
		external_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		due_date INTEGER,
		cutoff_date INTEGER,
		visible INTEGER NOT NULL DEFAULT 1,
		needs_analysis INTEGER NOT NULL DEFAULT 0,
		analysis_count INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NOT NULL DEFAULT '',
		last_data_sync INTEGER,
		UNIQUE(course_id, external_id),
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_activities_course ON course_activities(course_id);
	CREATE INDEX IF NOT EXISTS idx_activities_dirty ON course_activities(needs_analysis, last_data_sync);

	CREATE TABLE IF NOT EXISTS activity_analyses (
		id TEXT PRIMARY KEY,
		aula_id INTEGER NOT NULL,
		course_id INTEGER NOT NULL,
		activity_id INTEGER NOT NULL,
		group_id INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		strengths TEXT NOT NULL,
		alerts TEXT NOT NULL,
		next_step TEXT,
		confidence REAL NOT NULL,
		raw_response TEXT,
		model TEXT,
		fingerprint TEXT NOT NULL,
		generated_at INTEGER NOT NULL,
		is_latest INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (activity_id) REFERENCES course_activities(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_key ON activity_analyses(aula_id, course_id, activity_id, group_id, is_latest);
	CREATE INDEX IF NOT EXISTS idx_analyses_generated ON activity_analyses(generated_at);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		processed INTEGER NOT NULL DEFAULT 0,
		generated INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_type ON job_runs(job_type, started_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertAula(aula *models.Aula) (int64, error) {
	query := `INSERT INTO aulas (name, base_url, token, active, created_at) VALUES (?, ?, ?, ?, ?)`

	res, err := c.db.Exec(query, aula.Name, aula.BaseURL, aula.Token, boolToInt(aula.Active), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert aula: %w", err)
	}

	return res.LastInsertId()
}

func (c *Client) ListActiveAulas() ([]models.Aula, error) {
	query := `SELECT id, name, base_url, token, active, created_at FROM aulas WHERE active = 1 ORDER BY id`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list aulas: %w", err)
	}
	defer rows.Close()

	var aulas []models.Aula
	for rows.Next() {
		var a models.Aula
		var active int
		var createdAt int64

		err := rows.Scan(&a.ID, &a.Name, &a.BaseURL, &a.Token, &active, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Active = active == 1
		a.CreatedAt = time.Unix(createdAt, 0)
		aulas = append(aulas, a)
	}

	return aulas, rows.Err()
}

func (c *Client) GetAula(id int64) (*models.Aula, error) {
	query := `SELECT id, name, base_url, token, active, created_at FROM aulas WHERE id = ?`

	var a models.Aula
	var active int
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&a.ID, &a.Name, &a.BaseURL, &a.Token, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aula: %w", err)
	}

	a.Active = active == 1
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func (c *Client) SetAulaActive(id int64, active bool) error {
	_, err := c.db.Exec(`UPDATE aulas SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update aula: %w", err)
	}
	return nil
}

// UpsertCourse inserts or refreshes a course by (aula, external id) and
// returns its internal id.
func (c *Client) UpsertCourse(course *models.Course) (int64, error) {
	query := `
		INSERT INTO courses (aula_id, external_id, name, short_name, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(aula_id, external_id) DO UPDATE SET
			name = excluded.name,
			short_name = excluded.short_name,
			last_synced_at = excluded.last_synced_at
	`

	_, err := c.db.Exec(query, course.AulaID, course.ExternalID, course.Name, course.ShortName, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to upsert course: %w", err)
	}

	var id int64
	err = c.db.QueryRow(`SELECT id FROM courses WHERE aula_id = ? AND external_id = ?`,
		course.AulaID, course.ExternalID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read course id: %w", err)
	}

	return id, nil
}

func (c *Client) GetCourse(id int64) (*models.Course, error) {
	var course models.Course
	var lastSynced sql.NullInt64

	err := c.db.QueryRow(`SELECT id, aula_id, external_id, name, short_name, last_synced_at FROM courses WHERE id = ?`,
		id).Scan(&course.ID, &course.AulaID, &course.ExternalID, &course.Name, &course.ShortName, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	course.LastSyncedAt = timeOrNil(lastSynced)
	return &course, nil
}

func (c *Client) GetActivityByKey(courseID, externalID int64) (*models.CourseActivity, error) {
	query := `
		SELECT id, course_id, external_id, kind, name, description, due_date, cutoff_date,
			visible, needs_analysis, analysis_count, fingerprint, last_data_sync
		FROM course_activities
		WHERE course_id = ? AND external_id = ?
	`

	row := c.db.QueryRow(query, courseID, externalID)
	activity, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}

	return activity, nil
}

func (c *Client) GetActivity(id int64) (*models.CourseActivity, error) {
	query := `
		SELECT id, course_id, external_id, kind, name, description, due_date, cutoff_date,
			visible, needs_analysis, analysis_count, fingerprint, last_data_sync
		FROM course_activities
		WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	activity, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}

	return activity, nil
}

func (c *Client) InsertActivity(a *models.CourseActivity) (int64, error) {
	query := `
		INSERT INTO course_activities (course_id, external_id, kind, name, description,
			due_date, cutoff_date, visible, needs_analysis, analysis_count, fingerprint, last_data_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	res, err := c.db.Exec(query,
		a.CourseID,
		a.ExternalID,
		string(a.Kind),
		a.Name,
		a.Description,
		unixOrNil(a.DueDate),
		unixOrNil(a.CutoffDate),
		boolToInt(a.Visible),
		boolToInt(a.NeedsAnalysis),
		a.Fingerprint,
		unixOrNil(a.LastDataSync),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert activity: %w", err)
	}

	return res.LastInsertId()
}

// UpdateActivitySynced refreshes an activity's remote fields after a sync
// fetch. The dirty flag is only ever raised here, never cleared.
func (c *Client) UpdateActivitySynced(a *models.CourseActivity, markDirty bool) error {
	query := `
		UPDATE course_activities SET
			name = ?, description = ?, due_date = ?, cutoff_date = ?, visible = ?,
			fingerprint = ?, last_data_sync = ?,
			needs_analysis = CASE WHEN ? THEN 1 ELSE needs_analysis END
		WHERE id = ?
	`

	_, err := c.db.Exec(query,
		a.Name,
		a.Description,
		unixOrNil(a.DueDate),
		unixOrNil(a.CutoffDate),
		boolToInt(a.Visible),
		a.Fingerprint,
		unixOrNil(a.LastDataSync),
		markDirty,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}

	return nil
}

// HideMissingActivities soft-removes activities that disappeared remotely,
// keeping their analysis history intact.
func (c *Client) HideMissingActivities(courseID int64, seenExternalIDs []int64) (int64, error) {
	if len(seenExternalIDs) == 0 {
		res, err := c.db.Exec(`UPDATE course_activities SET visible = 0 WHERE course_id = ? AND visible = 1`, courseID)
		if err != nil {
			return 0, fmt.Errorf("failed to hide activities: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := strings.Repeat("?,", len(seenExternalIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(seenExternalIDs)+1)
	args = append(args, courseID)
	for _, id := range seenExternalIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`UPDATE course_activities SET visible = 0 WHERE course_id = ? AND visible = 1 AND external_id NOT IN (%s)`,
		placeholders,
	)

	res, err := c.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to hide activities: %w", err)
	}

	return res.RowsAffected()
}

type AnalysisFilter struct {
	AulaID   int64
	CourseID int64
	Force    bool
	Limit    int
}

// AnalysisCandidate pairs an activity with the aula/course context the batch
// orchestrator needs to analyze it.
type AnalysisCandidate struct {
	Activity   models.CourseActivity
	AulaID     int64
	CourseName string
}

// ListNeedingAnalysis selects batch candidates: never-analyzed activities
// first, then oldest data. With Force, the dirty flag is ignored.
func (c *Client) ListNeedingAnalysis(filter AnalysisFilter) ([]AnalysisCandidate, error) {
	query := `
		SELECT c.aula_id, c.name,
			a.id, a.course_id, a.external_id, a.kind, a.name, a.description, a.due_date,
			a.cutoff_date, a.visible, a.needs_analysis, a.analysis_count, a.fingerprint, a.last_data_sync
		FROM course_activities a
		JOIN courses c ON c.id = a.course_id
		WHERE a.visible = 1
	`
	args := []interface{}{}

	if !filter.Force {
		query += ` AND a.needs_analysis = 1`
	}
	if filter.AulaID != 0 {
		query += ` AND c.aula_id = ?`
		args = append(args, filter.AulaID)
	}
	if filter.CourseID != 0 {
		query += ` AND a.course_id = ?`
		args = append(args, filter.CourseID)
	}

	query += ` ORDER BY (a.analysis_count = 0) DESC, COALESCE(a.last_data_sync, 0) ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities needing analysis: %w", err)
	}
	defer rows.Close()

	var candidates []AnalysisCandidate
	for rows.Next() {
		var cand AnalysisCandidate
		var a models.CourseActivity
		var description sql.NullString
		var dueDate, cutoffDate, lastDataSync sql.NullInt64
		var visible, needsAnalysis int
		var kind string

		err := rows.Scan(&cand.AulaID, &cand.CourseName,
			&a.ID, &a.CourseID, &a.ExternalID, &kind, &a.Name, &description, &dueDate,
			&cutoffDate, &visible, &needsAnalysis, &a.AnalysisCount, &a.Fingerprint, &lastDataSync)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Kind = models.ActivityKind(kind)
		a.Description = description.String
		a.Visible = visible == 1
		a.NeedsAnalysis = needsAnalysis == 1
		a.DueDate = timeOrNil(dueDate)
		a.CutoffDate = timeOrNil(cutoffDate)
		a.LastDataSync = timeOrNil(lastDataSync)

		cand.Activity = a
		candidates = append(candidates, cand)
	}

	return candidates, rows.Err()
}

// InsertAnalysis writes a new versioned result. The previous latest flip, the
// insert, the dirty-flag clear and the counter bump commit together, so
// readers never observe two latest rows or a cleared flag without a result.
func (c *Client) InsertAnalysis(a *models.ActivityAnalysis) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE activity_analyses SET is_latest = 0
		 WHERE aula_id = ? AND course_id = ? AND activity_id = ? AND group_id = ? AND is_latest = 1`,
		a.AulaID, a.CourseID, a.ActivityID, a.GroupID,
	)
	if err != nil {
		return fmt.Errorf("failed to flip previous latest: %w", err)
	}

	strengthsJSON, _ := json.Marshal(a.Strengths)
	alertsJSON, _ := json.Marshal(a.Alerts)

	_, err = tx.Exec(
		`INSERT INTO activity_analyses (id, aula_id, course_id, activity_id, group_id, kind,
			summary, strengths, alerts, next_step, confidence, raw_response, model,
			fingerprint, generated_at, is_latest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		a.ID, a.AulaID, a.CourseID, a.ActivityID, a.GroupID, string(a.Kind),
		a.Summary, string(strengthsJSON), string(alertsJSON), a.NextStep, a.Confidence,
		a.RawResponse, a.Model, a.Fingerprint, a.GeneratedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE course_activities SET needs_analysis = 0, analysis_count = analysis_count + 1 WHERE id = ?`,
		a.ActivityID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}

	logger.Debug("Analysis persisted",
		zap.String("analysis_id", a.ID),
		zap.Int64("activity_id", a.ActivityID),
		zap.Float64("confidence", a.Confidence),
	)

	return nil
}

func (c *Client) GetLatestAnalysis(aulaID, courseID, activityID, groupID int64) (*models.ActivityAnalysis, error) {
	query := `
		SELECT id, aula_id, course_id, activity_id, group_id, kind, summary, strengths, alerts,
			next_step, confidence, raw_response, model, fingerprint, generated_at, is_latest
		FROM activity_analyses
		WHERE aula_id = ? AND course_id = ? AND activity_id = ? AND group_id = ? AND is_latest = 1
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`

	row := c.db.QueryRow(query, aulaID, courseID, activityID, groupID)
	analysis, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}

	return analysis, nil
}

func (c *Client) CountLatestAnalyses(aulaID, courseID, activityID, groupID int64) (int, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM activity_analyses
		 WHERE aula_id = ? AND course_id = ? AND activity_id = ? AND group_id = ? AND is_latest = 1`,
		aulaID, courseID, activityID, groupID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count latest analyses: %w", err)
	}
	return count, nil
}

// DeleteAllAnalyses is the destructive maintenance wipe. Idempotent: wiping
// an empty table reports zero deleted.
func (c *Client) DeleteAllAnalyses() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM activity_analyses`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete analyses: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted count: %w", err)
	}

	logger.Info("All analyses deleted", zap.Int64("deleted", deleted))
	return deleted, nil
}

func (c *Client) StartJobRun(id, jobType string) error {
	_, err := c.db.Exec(
		`INSERT INTO job_runs (id, job_type, status, started_at) VALUES (?, ?, ?, ?)`,
		id, jobType, models.JobStatusRunning, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to start job run: %w", err)
	}
	return nil
}

func (c *Client) FinishJobRun(id, status string, processed, generated, errorCount int, detail string) error {
	_, err := c.db.Exec(
		`UPDATE job_runs SET status = ?, finished_at = ?, processed = ?, generated = ?, error_count = ?, detail = ?
		 WHERE id = ?`,
		status, time.Now().Unix(), processed, generated, errorCount, detail, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

func (c *Client) GetJobRun(id string) (*models.JobRun, error) {
	query := `SELECT id, job_type, status, started_at, finished_at, processed, generated, error_count, detail
		FROM job_runs WHERE id = ?`

	var run models.JobRun
	var startedAt int64
	var finishedAt sql.NullInt64
	var detail sql.NullString

	err := c.db.QueryRow(query, id).Scan(&run.ID, &run.JobType, &run.Status, &startedAt,
		&finishedAt, &run.Processed, &run.Generated, &run.ErrorCount, &detail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}

	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}
	run.Detail = detail.String

	return &run, nil
}

type ActivityListing struct {
	AulaID     int64
	AulaName   string
	CourseID   int64
	CourseName string
	Activity   models.CourseActivity
	Analyzed   bool
}

type ListingFilter struct {
	AulaID     int64
	CourseID   int64
	ActiveOnly bool
}

func (c *Client) ListActivities(filter ListingFilter) ([]ActivityListing, error) {
	query := `
		SELECT au.id, au.name, co.id, co.name,
			a.id, a.course_id, a.external_id, a.kind, a.name, a.description, a.due_date,
			a.cutoff_date, a.visible, a.needs_analysis, a.analysis_count, a.fingerprint, a.last_data_sync
		FROM course_activities a
		JOIN courses co ON co.id = a.course_id
		JOIN aulas au ON au.id = co.aula_id
		WHERE 1 = 1
	`
	args := []interface{}{}

	if filter.AulaID != 0 {
		query += ` AND au.id = ?`
		args = append(args, filter.AulaID)
	}
	if filter.CourseID != 0 {
		query += ` AND co.id = ?`
		args = append(args, filter.CourseID)
	}
	if filter.ActiveOnly {
		query += ` AND a.visible = 1`
	}

	query += ` ORDER BY au.id, co.id, a.id`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var listings []ActivityListing
	for rows.Next() {
		var l ActivityListing
		var a models.CourseActivity
		var description sql.NullString
		var dueDate, cutoffDate, lastDataSync sql.NullInt64
		var visible, needsAnalysis int
		var kind string

		err := rows.Scan(&l.AulaID, &l.AulaName, &l.CourseID, &l.CourseName,
			&a.ID, &a.CourseID, &a.ExternalID, &kind, &a.Name, &description, &dueDate,
			&cutoffDate, &visible, &needsAnalysis, &a.AnalysisCount, &a.Fingerprint, &lastDataSync)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Kind = models.ActivityKind(kind)
		a.Description = description.String
		a.Visible = visible == 1
		a.NeedsAnalysis = needsAnalysis == 1
		a.DueDate = timeOrNil(dueDate)
		a.CutoffDate = timeOrNil(cutoffDate)
		a.LastDataSync = timeOrNil(lastDataSync)

		l.Activity = a
		l.Analyzed = a.AnalysisCount > 0
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (*models.CourseActivity, error) {
	var a models.CourseActivity
	var description sql.NullString
	var dueDate, cutoffDate, lastDataSync sql.NullInt64
	var visible, needsAnalysis int
	var kind string

	err := row.Scan(&a.ID, &a.CourseID, &a.ExternalID, &kind, &a.Name, &description,
		&dueDate, &cutoffDate, &visible, &needsAnalysis, &a.AnalysisCount, &a.Fingerprint, &lastDataSync)
	if err != nil {
		return nil, err
	}

	a.Kind = models.ActivityKind(kind)
	a.Description = description.String
	a.Visible = visible == 1
	a.NeedsAnalysis = needsAnalysis == 1
	a.DueDate = timeOrNil(dueDate)
	a.CutoffDate = timeOrNil(cutoffDate)
	a.LastDataSync = timeOrNil(lastDataSync)

	return &a, nil
}

func scanAnalysis(row rowScanner) (*models.ActivityAnalysis, error) {
	var a models.ActivityAnalysis
	var strengthsJSON, alertsJSON string
	var nextStep, rawResponse, model sql.NullString
	var generatedAt int64
	var isLatest int
	var kind string

	err := row.Scan(&a.ID, &a.AulaID, &a.CourseID, &a.ActivityID, &a.GroupID, &kind,
		&a.Summary, &strengthsJSON, &alertsJSON, &nextStep, &a.Confidence,
		&rawResponse, &model, &a.Fingerprint, &generatedAt, &isLatest)
	if err != nil {
		return nil, err
	}

	a.Kind = models.ActivityKind(kind)
	json.Unmarshal([]byte(strengthsJSON), &a.Strengths)
	json.Unmarshal([]byte(alertsJSON), &a.Alerts)
	a.NextStep = nextStep.String
	a.RawResponse = rawResponse.String
	a.Model = model.String
	a.GeneratedAt = time.Unix(generatedAt, 0)
	a.IsLatest = isLatest == 1

	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
