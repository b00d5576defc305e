package shared

import "fmt"

// PropagationLockKey builds redis keys serialising delivery of one propagation.
func PropagationLockKey(propagationID string) string {
	return fmt.Sprintf("gateway:webhook:propagation:%s:lock", propagationID)
}
