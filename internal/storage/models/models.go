package models

import "time"

// ActivityKind is the closed set of analyzable activity types.
type ActivityKind string

const (
	KindAssignment ActivityKind = "assignment"
	KindForum      ActivityKind = "forum"
)

func (k ActivityKind) Valid() bool {
	return k == KindAssignment || k == KindForum
}

// Aula is one deployed LMS site (tenant). Created by configuration; only the
// active flag is ever toggled afterwards.
type Aula struct {
	ID        int64
	Name      string
	BaseURL   string
	Token     string
	Active    bool
	CreatedAt time.Time
}

type Course struct {
	ID           int64
	AulaID       int64
	ExternalID   int64
	Name         string
	ShortName    string
	LastSyncedAt *time.Time
}

type CourseActivity struct {
	ID            int64
	CourseID      int64
	ExternalID    int64
	Kind          ActivityKind
	Name          string
	Description   string
	DueDate       *time.Time
	CutoffDate    *time.Time
	Visible       bool
	NeedsAnalysis bool
	AnalysisCount int
	Fingerprint   string
	LastDataSync  *time.Time
}

// ActivityAnalysis is an immutable snapshot of one analysis run. Only the
// IsLatest flag ever changes after insert.
type ActivityAnalysis struct {
	ID          string
	AulaID      int64
	CourseID    int64
	ActivityID  int64
	GroupID     int64
	Kind        ActivityKind
	Summary     string
	Strengths   []string
	Alerts      []string
	NextStep    string
	Confidence  float64
	RawResponse string
	Model       string
	Fingerprint string
	GeneratedAt time.Time
	IsLatest    bool
}

type JobRun struct {
	ID         string
	JobType    string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Processed  int
	Generated  int
	ErrorCount int
	Detail     string
}

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ActivityStats aggregates activity counts for the grouped listing endpoint.
type ActivityStats struct {
	Total    int
	Active   int
	Inactive int
	Analyzed int
}
