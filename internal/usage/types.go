package usage

// Admission is the ledger outcome for one admitted request.
type Admission struct {
	UserID    string
	Date      string
	Count     int
	Remaining int // -1 when the ledger has no limit
}
