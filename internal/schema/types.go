// Package schema defines the school dataset records synchronized between
// the local working copy and the remote document store.
package schema

import (
	"fmt"
	"strconv"
)

// Record is a collection item addressed by a stable id.
type Record interface {
	Key() string
}

// Settings holds the school-wide configuration.
type Settings struct {
	SchoolName          string `json:"schoolName" validate:"max=200"`
	District            string `json:"district"`
	Address             string `json:"address"`
	AcademicYear        string `json:"academicYear"`
	AcademicTerm        string `json:"academicTerm"`
	VacationDate        string `json:"vacationDate"`
	ReopeningDate       string `json:"reopeningDate"`
	HeadmasterName      string `json:"headmasterName"`
	Logo                string `json:"logo"`
	HeadmasterSignature string `json:"headmasterSignature"`
	IsDataEntryLocked   bool   `json:"isDataEntryLocked,omitempty"`

	// Index number auto-assignment
	AutoAssignIndexNumbers   bool   `json:"autoAssignIndexNumbers,omitempty"`
	IndexNumberGlobalPrefix  string `json:"indexNumberGlobalPrefix,omitempty"`
	IndexNumberGlobalSuffix  string `json:"indexNumberGlobalSuffix,omitempty"`
	IndexNumberCounterDigits int    `json:"indexNumberCounterDigits,omitempty" validate:"gte=0,lte=12"`
	IndexNumberPerClass      bool   `json:"indexNumberPerClass,omitempty"`
	IndexNumberAutoSort      bool   `json:"indexNumberAutoSort,omitempty"`
	IndexNumberGlobalCounter int    `json:"indexNumberGlobalCounter,omitempty" validate:"gte=0"`

	AllowStudentProgressView bool `json:"allowStudentProgressView,omitempty"`
	IsPromotionTerm          bool `json:"isPromotionTerm,omitempty"`
}

// Student is an enrolled learner.
type Student struct {
	ID          int64  `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required,max=200"`
	IndexNumber string `json:"indexNumber"`
	Gender      string `json:"gender" validate:"omitempty,oneof=Male Female"`
	Class       string `json:"class"`
	DateOfBirth string `json:"dateOfBirth"`
	Age         string `json:"age"`
	Picture     string `json:"picture"`
}

func (s Student) Key() string { return formatID(s.ID) }

// Subject is a taught subject and its facilitator.
type Subject struct {
	ID          int64  `json:"id" validate:"required"`
	Subject     string `json:"subject" validate:"required"`
	Type        string `json:"type" validate:"omitempty,oneof=Core Elective"`
	Facilitator string `json:"facilitator"`
	Signature   string `json:"signature"`
}

func (s Subject) Key() string { return formatID(s.ID) }

// Class is a class group with its class teacher.
type Class struct {
	ID                 int64  `json:"id" validate:"required"`
	Name               string `json:"name" validate:"required"`
	TeacherName        string `json:"teacherName"`
	TeacherSignature   string `json:"teacherSignature"`
	IndexNumberPrefix  string `json:"indexNumberPrefix,omitempty"`
	IndexNumberSuffix  string `json:"indexNumberSuffix,omitempty"`
	IndexNumberCounter int    `json:"indexNumberCounter,omitempty" validate:"gte=0"`
}

func (c Class) Key() string { return formatID(c.ID) }

// Grade is one band of the grading scale.
type Grade struct {
	ID       int64   `json:"id" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	MinScore float64 `json:"minScore" validate:"gte=0,lte=100"`
	MaxScore float64 `json:"maxScore" validate:"gte=0,lte=100,gtefield=MinScore"`
	Remark   string  `json:"remark"`
}

func (g Grade) Key() string { return formatID(g.ID) }

// Assessment is an assessment type. Weight is both the percentage share
// and the maximum score for the assessment.
type Assessment struct {
	ID     int64   `json:"id" validate:"required"`
	Name   string  `json:"name" validate:"required"`
	Weight float64 `json:"weight" validate:"gte=0,lte=100"`
}

func (a Assessment) Key() string { return formatID(a.ID) }

// Score holds one student's scores for one subject. AssessmentScores maps
// an assessment id to its ordered list of "value/basis" entries.
type Score struct {
	ID               string              `json:"id" validate:"required"`
	StudentID        int64               `json:"studentId" validate:"required"`
	SubjectID        int64               `json:"subjectId" validate:"required"`
	AssessmentScores map[string][]string `json:"assessmentScores"`
}

func (s Score) Key() string { return s.ID }

// ReportData holds the per-student report card remarks.
type ReportData struct {
	StudentID     int64  `json:"studentId" validate:"required"`
	Attendance    string `json:"attendance"`
	Conduct       string `json:"conduct"`
	Interest      string `json:"interest"`
	Attitude      string `json:"attitude"`
	TeacherRemark string `json:"teacherRemark"`
	PromotedTo    string `json:"promotedTo,omitempty"`
}

func (r ReportData) Key() string { return formatID(r.StudentID) }

// ClassData holds per-class report values.
type ClassData struct {
	ClassID         int64  `json:"classId" validate:"required"`
	TotalSchoolDays string `json:"totalSchoolDays"`
}

func (c ClassData) Key() string { return formatID(c.ClassID) }

// Role values are opaque to the sync layer.
const (
	RoleAdmin   = "Admin"
	RoleTeacher = "Teacher"
	RoleGuest   = "Guest"
)

// User is an application user.
type User struct {
	ID              int64               `json:"id" validate:"required"`
	Name            string              `json:"name" validate:"required"`
	Role            string              `json:"role" validate:"required"`
	AllowedClasses  []string            `json:"allowedClasses"`
	AllowedSubjects []string            `json:"allowedSubjects"`
	ClassSubjects   map[string][]string `json:"classSubjects,omitempty"`
	PasswordHash    string              `json:"passwordHash"`
	IsReadOnly      bool                `json:"isReadOnly,omitempty"`
}

func (u User) Key() string { return formatID(u.ID) }

// Log actions.
const (
	ActionLogin     = "Login"
	ActionLogout    = "Logout"
	ActionPageVisit = "Page Visit"
)

// UserLog is one entry of the user activity log.
type UserLog struct {
	ID           string `json:"id" validate:"required"`
	UserID       int64  `json:"userId"`
	UserName     string `json:"userName"`
	Role         string `json:"role"`
	Action       string `json:"action" validate:"required"`
	Timestamp    string `json:"timestamp" validate:"required"`
	DeviceID     string `json:"deviceId,omitempty"`
	PageName     string `json:"pageName,omitempty"`
	PreviousPage string `json:"previousPage,omitempty"`
}

func (l UserLog) Key() string { return l.ID }

// OnlineUser is a user with a recent heartbeat.
type OnlineUser struct {
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	Role       string `json:"role"`
	LastActive string `json:"lastActive"`
}

// ScoreID returns the id of the score record for a student and subject.
func ScoreID(studentID, subjectID int64) string {
	return fmt.Sprintf("%d-%d", studentID, subjectID)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
