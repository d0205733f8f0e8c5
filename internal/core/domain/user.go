package domain

// OperatorID identifies the authenticated caller driving sessions.
type OperatorID string

type Operator struct {
	ID   OperatorID
	Name string
}
