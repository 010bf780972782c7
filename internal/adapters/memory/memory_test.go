package memory

import (
	"testing"

	"github.com/aretw0/tally/pkg/ports"
)

func TestStore_Contract(t *testing.T) {
	ports.RunCheckpointStoreContract(t, New())
}
