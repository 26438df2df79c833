package mesh

import "github.com/google/uuid"

func newNodeID() string {
	return uuid.NewString()
}
