package moodle

import "time"

// RemoteCourse is a course as reported by the LMS web service.
type RemoteCourse struct {
	ID        int64
	FullName  string
	ShortName string
}

// RemoteActivity is an analyzable module (assignment or forum) inside a
// course. ExternalID is the module instance id, stable across syncs.
type RemoteActivity struct {
	ExternalID  int64
	Kind        string
	Name        string
	Description string
	DueDate     *time.Time
	CutoffDate  *time.Time
	Visible     bool
}

type ForumDiscussion struct {
	ID           int64
	Name         string
	Message      string
	NumReplies   int
	TimeModified time.Time
}

type ForumPost struct {
	ID          int64
	Subject     string
	Message     string
	Author      string
	TimeCreated time.Time
}

type Submission struct {
	ID           int64
	UserID       int64
	Status       string
	TimeModified time.Time
}

type SiteInfo struct {
	SiteName string
	UserName string
	Release  string
}
