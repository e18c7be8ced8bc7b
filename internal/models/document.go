package models

import "time"

// PlanDocument is the record persisted for one uploaded file of one user.
// Its JSON form is the layout the browser client reads and writes; see
// encoding.go.
type PlanDocument struct {
	GroupedData *Tree
	AISummary   string
	Timestamp   time.Time
}

// DocKey addresses a PlanDocument: artifacts/{Namespace}/users/{UserID}/pps_data/{FileName}.
type DocKey struct {
	Namespace string
	UserID    string
	FileName  string
}

// Complete reports whether every part of the key is known.
func (k DocKey) Complete() bool {
	return k.Namespace != "" && k.UserID != "" && k.FileName != ""
}

// DocSummary is a listing entry for a stored plan.
type DocSummary struct {
	FileName  string    `json:"fileName"`
	ItemCount int       `json:"itemCount"`
	Timestamp time.Time `json:"timestamp"`
}
