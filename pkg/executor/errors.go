package executor

import "fmt"

// NotFoundError is returned by Resume when a decision references an
// operation id absent from the batch.
type NotFoundError struct {
	OperationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("operation %q not found in batch", e.OperationID)
}

func errOperationNotFound(operationID string) error {
	return &NotFoundError{OperationID: operationID}
}
