package dataset

import "fmt"

// Operation is one of the two access rights a grant can carry. Read and write
// are independent: holding write does not imply read.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OpRead || op == OpWrite
}

// SubjectKind tags a grant subject as an individual user or a group.
type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectGroup SubjectKind = "group"
)

// Subject is a principal a permission can be granted to.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// User and Group are shorthand constructors for the two subject kinds.
func User(id string) Subject  { return Subject{Kind: SubjectUser, ID: id} }
func Group(id string) Subject { return Subject{Kind: SubjectGroup, ID: id} }

func (s Subject) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// Grant is one cell of the permission matrix:
// (dataset, subject, operation) -> granted.
type Grant struct {
	DatasetID string    `json:"datasetId"`
	Subject   Subject   `json:"subject"`
	Operation Operation `json:"operation"`
}
