package session

// FieldEditSession tracks which scalar fields are in edit mode.
// Fields are independent: entering edit mode on one never touches
// another. Commit semantics live on the Coordinator, which owns the
// snapshot the committed value lands in.
type FieldEditSession struct {
	editing map[string]bool
}

func newFieldEditSession() *FieldEditSession {
	return &FieldEditSession{editing: map[string]bool{}}
}

func (s *FieldEditSession) begin(field string)  { s.editing[field] = true }
func (s *FieldEditSession) cancel(field string) { delete(s.editing, field) }

// Editing reports whether field is currently in edit mode.
func (s *FieldEditSession) Editing(field string) bool {
	return s.editing[field]
}

func (s *FieldEditSession) reset() {
	s.editing = map[string]bool{}
}
